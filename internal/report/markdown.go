package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/guimove/seqpack/internal/model"
)

// MarkdownReporter outputs results as GitHub-flavored markdown tables,
// suitable for pasting into experiment notes.
type MarkdownReporter struct {
	w io.Writer
}

func (r *MarkdownReporter) summary(title string, meta ReportMeta) {
	fmt.Fprintf(r.w, "## %s\n\n", title)
	fmt.Fprintf(r.w, "- **Dataset:** `%s` (%d samples, %d tokens)\n", meta.Dataset, meta.Samples, meta.TotalTokens)
	fmt.Fprintf(r.w, "- **Sequence:** %d tokens, batch size %d\n", meta.Packing.SeqMaxLength, meta.Packing.BatchSize)
	if meta.EfficiencyEstimate > 0 {
		source := meta.EfficiencySource
		if source == "" {
			source = "configured"
		}
		fmt.Fprintf(r.w, "- **Efficiency estimate:** %.1f%% (%s)\n", meta.EfficiencyEstimate*100, source)
	}
	fmt.Fprintf(r.w, "\n")
}

func (r *MarkdownReporter) ReportEpochs(ctx context.Context, epochs []model.EpochReport, meta ReportMeta) error {
	r.summary("Packing report", meta)
	fmt.Fprintf(r.w, "Geometry `%s`, rank %d, sampler %s.\n\n", meta.Packing.Label(), meta.Rank, meta.Sampler)

	if len(epochs) == 0 {
		fmt.Fprintf(r.w, "_No epochs were run._\n")
		return nil
	}

	fmt.Fprintf(r.w, "| Epoch | Batches | Budget | Samples | Tokens | Efficiency | Fill p50 | Fill p99 | Duration | Fingerprint |\n")
	fmt.Fprintf(r.w, "|---:|---:|---:|---:|---:|---:|---:|---:|---:|---|\n")
	for _, e := range epochs {
		fp := "`" + e.Fingerprint + "`"
		if e.Error != "" {
			fp = "error: " + e.Error
		}
		fmt.Fprintf(r.w, "| %d | %d | %d | %d | %d | %.1f%% | %.2f | %.2f | %s | %s |\n",
			e.Epoch, e.Batches, e.EstimatedRounds, e.Samples, e.Tokens,
			e.Efficiency*100, e.FillP50, e.FillP99, e.Duration.Round(time.Millisecond), fp)
	}
	fmt.Fprintf(r.w, "\n")
	return nil
}

func (r *MarkdownReporter) ReportSimulations(ctx context.Context, results []model.SimulationResult, meta ReportMeta) error {
	r.summary("Packing simulation", meta)

	if len(results) == 0 {
		fmt.Fprintf(r.w, "_No simulation results available._\n")
		return nil
	}

	fmt.Fprintf(r.w, "| # | World | Capacity | Rounds | Budget | Efficiency | Mean fill | Dropped |\n")
	fmt.Fprintf(r.w, "|---:|---:|---:|---:|---:|---:|---:|---:|\n")
	for _, sr := range topN(results, meta.TopN) {
		fmt.Fprintf(r.w, "| %d | %d | %d (%dx%d) | %d | %d | %.1f%% | %.2f | %d |\n",
			sr.Rank, sr.Scenario.WorldSize, sr.Scenario.Capacity(), sr.Scenario.SeqMaxLength, sr.Scenario.Multiplier,
			sr.Rounds, sr.EstimatedRounds, sr.Efficiency*100, sr.Utilization.MeanFill, sr.DroppedSamples)
	}
	fmt.Fprintf(r.w, "\n")
	return nil
}
