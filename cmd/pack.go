package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/guimove/seqpack/internal/orchestrator"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Pack a dataset into fixed-capacity batches",
	Long: `Runs the packing data loader over a JSONL dataset for one or more epochs,
the way a training loop would consume it on one rank. Every batch is the
concatenation of the samples sharing one bin, with segment-numbered
attention masks.

Packed batches can be written as JSON lines with --records. The epoch
report written with --output json can be fed back as --history-file to
calibrate later estimates.`,
	RunE: runPack,
}

func init() {
	f := packCmd.Flags()
	addPackingFlags(f)
	f.Int("epochs", 1, "number of epochs to run")
	f.String("records", "", "write packed batches as JSON lines to this file")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address while packing")
	f.String("metrics-textfile", "", "write final metrics to this file in the Prometheus text format")

	rootCmd.AddCommand(packCmd)
}

func runPack(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := cmd.Flags()
	if e, _ := f.GetInt("epochs"); f.Changed("epochs") {
		cfg.Packing.Epochs = e
	}
	if addr, _ := f.GetString("metrics-addr"); addr != "" {
		cfg.Metrics.ListenAddr = addr
	}
	if path, _ := f.GetString("metrics-textfile"); path != "" {
		cfg.Metrics.TextfilePath = path
	}
	if err := applyPackingFlags(f); err != nil {
		return err
	}
	if err := resolveWorld(ctx); err != nil {
		return err
	}

	ds, err := openDataset()
	if err != nil {
		return err
	}
	defer ds.Close()

	history, err := resolveHistory(ctx)
	if err != nil {
		return fmt.Errorf("creating history collector: %w", err)
	}

	tel, err := startTelemetry(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Close(context.Background()); err != nil {
			logrus.WithError(err).Warn("closing telemetry")
		}
	}()

	w, closeOut, err := outputWriter(f)
	if err != nil {
		return err
	}
	defer closeOut()

	orch := orchestrator.New(cfg, ds)
	orch.History = history
	orch.Recorder = tel.recorder
	orch.Tracer = tel.tracing.Tracer()
	orch.Writer = w

	if path, _ := f.GetString("records"); path != "" {
		rf, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating records file: %w", err)
		}
		defer rf.Close()
		orch.Records = rf
	}

	_, err = orch.Pack(ctx)
	return err
}
