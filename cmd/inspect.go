package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/guimove/seqpack/internal/dataloader"
	"github.com/guimove/seqpack/internal/dataset"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Display the length distribution of a dataset",
	Long: `Indexes a JSONL dataset and displays its features, token total, sample
length percentiles and longest samples. Samples longer than the bin
capacity are counted, since the loader refuses datasets containing them.
The fingerprint identifies the sampler's order for the given epoch, so
ranks can confirm they share one.`,
	RunE: runInspect,
}

func init() {
	f := inspectCmd.Flags()
	addPackingFlags(f)
	f.Int("epoch", 1, "sampler epoch to fingerprint (pack starts at 1)")

	rootCmd.AddCommand(inspectCmd)
}

type inspectOutput struct {
	dataset.Summary
	Epoch       int    `json:"epoch"`
	Fingerprint string `json:"fingerprint"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	if err := applyPackingFlags(f); err != nil {
		return err
	}

	ds, err := openDataset()
	if err != nil {
		return err
	}
	defer ds.Close()

	summary, err := dataset.Describe(ds, cfg.Packing.Capacity(), cfg.Output.TopN)
	if err != nil {
		return err
	}

	epoch, _ := f.GetInt("epoch")
	var sampler dataset.Sampler = dataset.NewSequential(ds.Len())
	if cfg.Sampler.Kind == "random" {
		r := dataset.NewRandom(ds.Len(), cfg.Sampler.Seed)
		r.SetEpoch(epoch)
		sampler = r
	}
	out := inspectOutput{
		Summary:     summary,
		Epoch:       epoch,
		Fingerprint: dataloader.Fingerprint(sampler.Indices()),
	}

	w, closeOut, err := outputWriter(f)
	if err != nil {
		return err
	}
	defer closeOut()

	if cfg.Output.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	// Table output
	fmt.Fprintf(w, "Dataset:     %s\n", cfg.Dataset.Path)
	fmt.Fprintf(w, "Features:    %s\n", strings.Join(summary.Features, ", "))
	fmt.Fprintf(w, "Samples:     %d (%d tokens)\n", summary.Samples, summary.Tokens)
	fmt.Fprintf(w, "Order:       %s epoch %d, fingerprint %s\n\n", cfg.Sampler.Kind, epoch, out.Fingerprint)

	fmt.Fprintf(w, "%8s %8s %10s %8s %8s %8s\n", "MIN", "P50", "MEAN", "P90", "P99", "MAX")
	fmt.Fprintf(w, "%8d %8d %10.1f %8d %8d %8d\n",
		summary.Min, summary.P50, summary.Mean, summary.P90, summary.P99, summary.Max)

	fmt.Fprintf(w, "\nBin capacity %d: ", summary.Capacity)
	if summary.Oversize == 0 {
		fmt.Fprintf(w, "every sample fits\n")
	} else {
		fmt.Fprintf(w, "%d sample(s) exceed it and must be truncated or filtered\n", summary.Oversize)
	}

	fmt.Fprintf(w, "\n%-10s %s\n", "INDEX", "LENGTH")
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 20))
	for _, s := range summary.Longest {
		flag := ""
		if s.Length > summary.Capacity {
			flag = " [oversize]"
		}
		fmt.Fprintf(w, "%-10d %d%s\n", s.Index, s.Length, flag)
	}
	return nil
}
