package model

import (
	"fmt"
	"time"
)

// ScenarioConfig describes the packing geometry used for a simulation run.
type ScenarioConfig struct {
	WorldSize    int `json:"world_size"`
	SeqMaxLength int `json:"seq_max_length"`
	Multiplier   int `json:"multiplier"`
	BatchSize    int `json:"batch_size"`
}

// Capacity returns the token capacity of a single bin.
func (sc ScenarioConfig) Capacity() int {
	return sc.SeqMaxLength * sc.Multiplier
}

// Label returns a human-readable label for this configuration.
func (sc ScenarioConfig) Label() string {
	return fmt.Sprintf("world=%d cap=%d (%dx%d)", sc.WorldSize, sc.Capacity(), sc.SeqMaxLength, sc.Multiplier)
}

// UtilizationReport details how full the emitted bins are.
type UtilizationReport struct {
	Bins         int     `json:"bins"`
	MeanFill     float64 `json:"mean_fill"` // 0.0 - 1.0
	MinFill      float64 `json:"min_fill"`
	WastedTokens int64   `json:"wasted_tokens"`

	// Fraction of bins filled below 90%
	UnderfilledBinFraction float64 `json:"underfilled_bin_fraction"`
}

// SimulationResult captures the outcome of running the allocator over a whole epoch order.
type SimulationResult struct {
	Rank     int            `json:"rank"`
	Scenario ScenarioConfig `json:"scenario"`

	Rounds          int     `json:"rounds"`
	EstimatedRounds int     `json:"estimated_rounds"`
	Efficiency      float64 `json:"efficiency"`

	UsedTokens     int64 `json:"used_tokens"`
	SlotTokens     int64 `json:"slot_tokens"`
	DroppedSamples int   `json:"dropped_samples"`
	DroppedTokens  int64 `json:"dropped_tokens"`

	Utilization UtilizationReport `json:"utilization"`

	SimulationDuration time.Duration `json:"simulation_duration"`
}

// EpochReport summarizes one full pass of the packing loader.
type EpochReport struct {
	Epoch       int    `json:"epoch"`
	Fingerprint string `json:"fingerprint"`

	Batches         int     `json:"batches"`
	EstimatedRounds int     `json:"estimated_rounds"`
	Samples         int     `json:"samples"`
	Tokens          int64   `json:"tokens"`
	Efficiency      float64 `json:"efficiency"`

	// Fill ratio percentiles of the bins handed to this rank
	FillP50 float64 `json:"fill_p50"`
	FillP90 float64 `json:"fill_p90"`
	FillP99 float64 `json:"fill_p99"`

	// Error that ended the epoch early, if any
	Error string `json:"error,omitempty"`

	Duration time.Duration `json:"duration"`
}
