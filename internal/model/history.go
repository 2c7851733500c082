package model

import "time"

// EfficiencyObservation is the packing efficiency one rank reported in an
// earlier run.
type EfficiencyObservation struct {
	Job        string  `json:"job"`
	Rank       string  `json:"rank"`
	Capacity   int     `json:"capacity,omitempty"`
	Efficiency float64 `json:"efficiency"`
}

// PackingHistory collects past efficiencies used to calibrate the length estimator.
type PackingHistory struct {
	CollectedAt  time.Time               `json:"collected_at"`
	Window       time.Duration           `json:"window,omitempty"`
	Observations []EfficiencyObservation `json:"observations"`
}

// MeanEfficiency returns the average observed efficiency, or 0 without observations.
func (h PackingHistory) MeanEfficiency() float64 {
	if len(h.Observations) == 0 {
		return 0
	}
	var total float64
	for _, o := range h.Observations {
		total += o.Efficiency
	}
	return total / float64(len(h.Observations))
}

// MaxEfficiency returns the highest observed efficiency. Estimating with it
// yields the smallest round budget, one every observed rank could fill.
func (h PackingHistory) MaxEfficiency() float64 {
	var best float64
	for _, o := range h.Observations {
		if o.Efficiency > best {
			best = o.Efficiency
		}
	}
	return best
}
