package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/guimove/seqpack/internal/model"
)

// StaticCollector loads packing history from a JSON file, either a
// PackingHistory document or the epoch reports written by `seqpack pack
// --output json`. Used for offline calibration and CI pipelines.
type StaticCollector struct {
	filePath string
	history  *model.PackingHistory
}

// NewStaticCollector creates a collector that reads from a JSON file.
func NewStaticCollector(filePath string) *StaticCollector {
	return &StaticCollector{filePath: filePath}
}

// NewStaticCollectorFromHistory creates a collector from pre-built history.
func NewStaticCollectorFromHistory(history *model.PackingHistory) *StaticCollector {
	return &StaticCollector{history: history}
}

// Ping checks that the file exists.
func (s *StaticCollector) Ping(ctx context.Context) error {
	if s.history != nil {
		return nil
	}
	if _, err := os.Stat(s.filePath); err != nil {
		return fmt.Errorf("static history file: %w", err)
	}
	return nil
}

// BackendType returns "static".
func (s *StaticCollector) BackendType() string {
	return "static"
}

// Collect loads the history, keeping observations that match opts.
func (s *StaticCollector) Collect(ctx context.Context, opts CollectOptions) (*model.PackingHistory, error) {
	history := s.history
	if history == nil {
		data, err := os.ReadFile(s.filePath)
		if err != nil {
			return nil, fmt.Errorf("reading static history file: %w", err)
		}
		history, err = parseHistory(data)
		if err != nil {
			return nil, err
		}
	}

	filtered := &model.PackingHistory{
		CollectedAt: history.CollectedAt,
		Window:      history.Window,
	}
	for _, o := range history.Observations {
		if opts.Job != "" && o.Job != opts.Job {
			continue
		}
		if opts.Capacity > 0 && o.Capacity != 0 && o.Capacity != opts.Capacity {
			continue
		}
		if o.Efficiency <= 0 {
			continue
		}
		filtered.Observations = append(filtered.Observations, o)
	}

	if len(filtered.Observations) == 0 {
		return nil, ErrNoHistory
	}
	return filtered, nil
}

// epochReportDocument is the shape of `seqpack pack --output json`.
type epochReportDocument struct {
	Epochs []model.EpochReport `json:"epochs"`
}

func parseHistory(data []byte) (*model.PackingHistory, error) {
	var history model.PackingHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parsing static history file: %w", err)
	}
	if len(history.Observations) > 0 {
		return &history, nil
	}

	var doc epochReportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing static history file: %w", err)
	}
	for _, e := range doc.Epochs {
		if e.Error != "" {
			continue
		}
		history.Observations = append(history.Observations, model.EfficiencyObservation{
			Rank:       "epoch-" + fmt.Sprint(e.Epoch),
			Efficiency: e.Efficiency,
		})
	}
	return &history, nil
}
