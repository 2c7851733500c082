package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/guimove/seqpack/internal/orchestrator"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Compare packing efficiency across world sizes and bin capacities",
	Long: `Runs the allocator over a whole epoch of the dataset for every combination
of --world-sizes and --multipliers, without assembling any batch, and ranks
the geometries by packing efficiency. Each row also shows the length
estimate next to the rounds actually emitted and the samples left over at
the end of the epoch.`,
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	addPackingFlags(f)
	f.IntSlice("world-sizes", nil, "world sizes to simulate (default from config)")
	f.IntSlice("multipliers", nil, "bin capacity multipliers to simulate (default from config)")

	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	f := cmd.Flags()
	if ws, _ := f.GetIntSlice("world-sizes"); len(ws) > 0 {
		cfg.Simulation.WorldSizes = ws
	}
	if m, _ := f.GetIntSlice("multipliers"); len(m) > 0 {
		cfg.Simulation.Multipliers = m
	}
	if err := applyPackingFlags(f); err != nil {
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

	_, err = orch.Simulate(ctx)
	return err
}
