package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/guimove/seqpack/internal/model"
)

// YAMLReporter outputs the same documents as JSONReporter in YAML form,
// keeping the JSON field names and order.
type YAMLReporter struct {
	w io.Writer
}

func (r *YAMLReporter) ReportEpochs(ctx context.Context, epochs []model.EpochReport, meta ReportMeta) error {
	return r.encode(jsonEpochOutput{Meta: meta, Epochs: epochs})
}

func (r *YAMLReporter) ReportSimulations(ctx context.Context, results []model.SimulationResult, meta ReportMeta) error {
	return r.encode(jsonSimulationOutput{Meta: meta, Scenarios: results})
}

func (r *YAMLReporter) encode(v any) error {
	node, err := toNode(v)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(r.w)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return fmt.Errorf("encoding YAML output: %w", err)
	}
	return enc.Close()
}

// toNode round-trips v through JSON so the struct tags drive the key names,
// then drops the flow styles the JSON parse leaves behind.
func toNode(v any) (*yaml.Node, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding YAML output: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("encoding YAML output: %w", err)
	}
	clearStyle(&node)
	return &node, nil
}

func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}
