package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/guimove/seqpack/internal/model"
)

// JSONReporter outputs results as JSON. Epoch documents can be read back as
// packing history.
type JSONReporter struct {
	w io.Writer
}

type jsonEpochOutput struct {
	Meta   ReportMeta          `json:"meta"`
	Epochs []model.EpochReport `json:"epochs"`
}

type jsonSimulationOutput struct {
	Meta      ReportMeta               `json:"meta"`
	Scenarios []model.SimulationResult `json:"scenarios"`
}

func (r *JSONReporter) ReportEpochs(ctx context.Context, epochs []model.EpochReport, meta ReportMeta) error {
	return r.encode(jsonEpochOutput{Meta: meta, Epochs: epochs})
}

func (r *JSONReporter) ReportSimulations(ctx context.Context, results []model.SimulationResult, meta ReportMeta) error {
	return r.encode(jsonSimulationOutput{Meta: meta, Scenarios: results})
}

func (r *JSONReporter) encode(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
