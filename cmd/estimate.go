package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/guimove/seqpack/internal/orchestrator"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the epoch length the loader reports",
	Long: `Computes the number of batches every rank is told to expect per epoch.

The estimate divides the dataset's tokens by the devices, the bin capacity
and the expected packing efficiency. When packing history is available
(--history-file, --prometheus-url or --discover) the best efficiency earlier
runs achieved replaces the configured one. --with-stats runs one packing
pass and prints the efficiency actually achieved next to the estimate.`,
	RunE: runEstimate,
}

func init() {
	f := estimateCmd.Flags()
	addPackingFlags(f)
	f.Bool("with-stats", false, "run one packing pass and compare estimated with actual efficiency")

	rootCmd.AddCommand(estimateCmd)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	f := cmd.Flags()
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

	w, closeOut, err := outputWriter(f)
	if err != nil {
		return err
	}
	defer closeOut()

	orch := orchestrator.New(cfg, ds)
	orch.History = history
	orch.Writer = w

	withStats, _ := f.GetBool("with-stats")
	est, err := orch.Estimate(ctx, withStats)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Dataset:      %s (%d samples, %d tokens)\n", cfg.Dataset.Path, ds.Len(), est.TotalTokens)
	fmt.Fprintf(w, "Bin capacity: %d tokens, %d devices\n", cfg.Packing.Capacity(), cfg.Packing.DeviceCount)
	fmt.Fprintf(w, "Efficiency:   %.1f%% (%s", est.Calibration.Efficiency*100, est.Calibration.Source)
	if est.Calibration.Observations > 0 {
		fmt.Fprintf(w, ", %d observations", est.Calibration.Observations)
	}
	fmt.Fprintf(w, ")\n")
	fmt.Fprintf(w, "Epoch length: %d batches\n", est.Rounds)

	if withStats {
		fmt.Fprintf(w, "\nActual:       %d rounds at %.1f%% efficiency\n", est.ActualRounds, est.ActualEfficiency*100)
		if est.Rounds > est.ActualRounds {
			fmt.Fprintf(w, "Warning: the estimate exceeds the rounds this rank can fill; raise --efficiency.\n")
		}
	}
	return nil
}
