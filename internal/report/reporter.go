package report

import (
	"context"
	"io"
	"time"

	"github.com/guimove/seqpack/internal/model"
)

// Reporter formats and writes packing results to an output destination.
type Reporter interface {
	ReportEpochs(ctx context.Context, epochs []model.EpochReport, meta ReportMeta) error
	ReportSimulations(ctx context.Context, results []model.SimulationResult, meta ReportMeta) error
}

// ReportMeta contains contextual metadata for the report.
type ReportMeta struct {
	Dataset     string    `json:"dataset"`
	Samples     int       `json:"samples"`
	TotalTokens int64     `json:"total_tokens"`
	GeneratedAt time.Time `json:"generated_at"`

	// Packing geometry of the run; simulations sweep WorldSize and Multiplier
	Packing model.ScenarioConfig `json:"packing"`
	Rank    int                  `json:"rank"`
	Sampler string               `json:"sampler"`

	EfficiencyEstimate float64 `json:"efficiency_estimate"`
	EfficiencySource   string  `json:"efficiency_source,omitempty"` // configured, prometheus, file

	// Rows to print in tabular formats
	TopN int `json:"-"`

	// First packed batches of the last epoch, shown by the table reporter
	Preview []model.PackedBatch `json:"-"`
}

// NewReporter creates a reporter for the given format writing to w.
func NewReporter(format string, w io.Writer) Reporter {
	switch format {
	case "json":
		return &JSONReporter{w: w}
	case "markdown":
		return &MarkdownReporter{w: w}
	case "yaml":
		return &YAMLReporter{w: w}
	default:
		return &TableReporter{w: w}
	}
}

func topN[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
