package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/guimove/seqpack/internal/dataloader"
	"github.com/guimove/seqpack/internal/model"
)

// indicesPerLine bounds the width of preview index lists.
const indicesPerLine = 16

// TableReporter outputs results as a formatted terminal table.
type TableReporter struct {
	w io.Writer
}

func (r *TableReporter) header(title string, meta ReportMeta) {
	fmt.Fprintf(r.w, "\n")
	fmt.Fprintf(r.w, "%s\n", title)
	fmt.Fprintf(r.w, "%s\n", strings.Repeat("=", 60))
	fmt.Fprintf(r.w, "Dataset:     %s\n", meta.Dataset)
	fmt.Fprintf(r.w, "Samples:     %d (%d tokens)\n", meta.Samples, meta.TotalTokens)
	fmt.Fprintf(r.w, "Sequence:    %d tokens, batch size %d\n", meta.Packing.SeqMaxLength, meta.Packing.BatchSize)
	if meta.Sampler != "" {
		fmt.Fprintf(r.w, "Sampler:     %s\n", meta.Sampler)
	}
	if meta.EfficiencyEstimate > 0 {
		source := meta.EfficiencySource
		if source == "" {
			source = "configured"
		}
		fmt.Fprintf(r.w, "Estimate:    %.1f%% efficiency (%s)\n", meta.EfficiencyEstimate*100, source)
	}
	fmt.Fprintf(r.w, "%s\n\n", strings.Repeat("=", 60))
}

func (r *TableReporter) ReportEpochs(ctx context.Context, epochs []model.EpochReport, meta ReportMeta) error {
	r.header("seqpack Packing Report", meta)
	fmt.Fprintf(r.w, "Geometry:    %s, rank %d\n\n", meta.Packing.Label(), meta.Rank)

	if len(epochs) == 0 {
		fmt.Fprintf(r.w, "No epochs were run.\n")
		return nil
	}

	fmt.Fprintf(r.w, "%-5s %8s %8s %8s %10s %6s %6s %6s %6s %10s %s\n",
		"Epoch", "Batches", "Budget", "Samples", "Tokens", "Eff%", "p50", "p90", "p99", "Duration", "Fingerprint")
	fmt.Fprintf(r.w, "%s\n", strings.Repeat("-", 100))

	for _, e := range epochs {
		fp := e.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		if e.Error != "" {
			fp += " [" + e.Error + "]"
		}
		fmt.Fprintf(r.w, "%-5d %8d %8d %8d %10d %5.1f%% %6.2f %6.2f %6.2f %10s %s\n",
			e.Epoch,
			e.Batches,
			e.EstimatedRounds,
			e.Samples,
			e.Tokens,
			e.Efficiency*100,
			e.FillP50,
			e.FillP90,
			e.FillP99,
			e.Duration.Round(time.Millisecond),
			fp,
		)
	}
	fmt.Fprintf(r.w, "%s\n", strings.Repeat("-", 100))

	if len(meta.Preview) > 0 {
		fmt.Fprintf(r.w, "\nFirst batches:\n")
		for _, b := range meta.Preview {
			fmt.Fprintf(r.w, "  round %d: %d tokens, %d samples\n", b.Round, b.Tokens, len(b.Indices))
			lines, err := dataloader.Chunk(b.Indices, indicesPerLine)
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Fprintf(r.w, "    %s\n", joinInts(line))
			}
		}
	}

	fmt.Fprintf(r.w, "\n")
	return nil
}

func (r *TableReporter) ReportSimulations(ctx context.Context, results []model.SimulationResult, meta ReportMeta) error {
	r.header("seqpack Packing Simulation", meta)

	if len(results) == 0 {
		fmt.Fprintf(r.w, "No simulation results available.\n")
		return nil
	}

	fmt.Fprintf(r.w, "%-4s %-30s %7s %7s %6s %6s %7s %8s\n",
		"Rank", "Configuration", "Rounds", "Budget", "Eff%", "Fill", "Under%", "Dropped")
	fmt.Fprintf(r.w, "%s\n", strings.Repeat("-", 84))

	for _, sr := range topN(results, meta.TopN) {
		label := sr.Scenario.Label()
		if len(label) > 30 {
			label = label[:27] + "..."
		}
		fmt.Fprintf(r.w, "#%-3d %-30s %7d %7d %5.1f%% %6.2f %6.1f%% %8d\n",
			sr.Rank,
			label,
			sr.Rounds,
			sr.EstimatedRounds,
			sr.Efficiency*100,
			sr.Utilization.MeanFill,
			sr.Utilization.UnderfilledBinFraction*100,
			sr.DroppedSamples,
		)
	}
	fmt.Fprintf(r.w, "%s\n", strings.Repeat("-", 84))

	top := results[0]
	fmt.Fprintf(r.w, "\nMost efficient: %s\n", top.Scenario.Label())
	fmt.Fprintf(r.w, "  Rounds:         %d (estimator budget %d)\n", top.Rounds, top.EstimatedRounds)
	fmt.Fprintf(r.w, "  Efficiency:     %.1f%%\n", top.Efficiency*100)
	fmt.Fprintf(r.w, "  Min bin fill:   %.2f\n", top.Utilization.MinFill)
	fmt.Fprintf(r.w, "  Wasted tokens:  %d\n", top.Utilization.WastedTokens)
	if top.DroppedSamples > 0 {
		fmt.Fprintf(r.w, "  Dropped tail:   %d samples, %d tokens\n", top.DroppedSamples, top.DroppedTokens)
	}
	if top.EstimatedRounds > top.Rounds {
		fmt.Fprintf(r.w, "\n  Warning: the length estimate exceeds the rounds the allocator emits,\n")
		fmt.Fprintf(r.w, "  so iteration ends before the reported length.\n")
	}

	fmt.Fprintf(r.w, "\n")
	return nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, " ")
}
