package packing

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/guimove/seqpack/internal/model"
)

// Estimator predicts the number of rounds a rank will see for a scenario.
type Estimator func(totalTokens int64, sc model.ScenarioConfig) int

// Engine runs whole-epoch allocations across multiple packing geometries.
type Engine struct {
	Packer      BinPacker
	Estimate    Estimator
	Parallelism int
}

// NewEngine creates a simulation engine.
func NewEngine(packer BinPacker, estimate Estimator) *Engine {
	return &Engine{
		Packer:      packer,
		Estimate:    estimate,
		Parallelism: runtime.NumCPU(),
	}
}

// Scenario defines a single simulation run configuration.
type Scenario struct {
	Name   string
	Config model.ScenarioConfig
}

// RunAll executes all scenarios over the same epoch-ordered lengths and
// returns results ranked by packing efficiency.
func (e *Engine) RunAll(
	ctx context.Context,
	scenarios []Scenario,
	lengths []int,
) ([]model.SimulationResult, error) {
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no simulation scenarios provided")
	}

	results := make([]model.SimulationResult, len(scenarios))
	errs := make([]error, len(scenarios))

	// Run simulations in parallel using a worker pool
	sem := make(chan struct{}, e.Parallelism)
	var wg sync.WaitGroup

	for i, sc := range scenarios {
		wg.Add(1)
		go func(idx int, scenario Scenario) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := e.runOne(ctx, scenario, lengths)
			results[idx] = result
			errs[idx] = err
		}(i, sc)
	}

	wg.Wait()

	var successful []model.SimulationResult
	var firstErr error
	for i, err := range errs {
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		successful = append(successful, results[i])
	}

	if len(successful) == 0 {
		return nil, fmt.Errorf("all simulation scenarios failed: %w", firstErr)
	}

	sort.SliceStable(successful, func(i, j int) bool {
		return successful[i].Efficiency > successful[j].Efficiency
	})
	for i := range successful {
		successful[i].Rank = i + 1
	}

	return successful, nil
}

// runOne executes a single simulation scenario.
func (e *Engine) runOne(
	ctx context.Context,
	scenario Scenario,
	lengths []int,
) (model.SimulationResult, error) {
	start := time.Now()
	sc := scenario.Config

	alloc, err := NewAllocator(lengths, AllocatorConfig{
		Bins:     sc.WorldSize,
		Capacity: sc.Capacity(),
		Packer:   e.Packer,
	})
	if err != nil {
		return model.SimulationResult{}, fmt.Errorf("scenario %q: %w", scenario.Name, err)
	}

	var (
		last      model.Round
		binTokens []int
	)
	for {
		if ctx.Err() != nil {
			return model.SimulationResult{}, ctx.Err()
		}
		round, ok, err := alloc.Next()
		if err != nil {
			return model.SimulationResult{}, fmt.Errorf("scenario %q: %w", scenario.Name, err)
		}
		if !ok {
			break
		}
		last = round
		binTokens = append(binTokens, round.BinTokens...)
	}

	return buildSimulationResult(scenario, lengths, alloc, last, binTokens, e.estimate(lengths, sc), time.Since(start)), nil
}

func (e *Engine) estimate(lengths []int, sc model.ScenarioConfig) int {
	if e.Estimate == nil {
		return 0
	}
	var total int64
	for _, l := range lengths {
		total += int64(l)
	}
	return e.Estimate(total, sc)
}

// buildSimulationResult computes aggregate metrics from an exhausted allocator.
func buildSimulationResult(
	scenario Scenario,
	lengths []int,
	alloc *Allocator,
	last model.Round,
	binTokens []int,
	estimated int,
	duration time.Duration,
) model.SimulationResult {
	sr := model.SimulationResult{
		Scenario:           scenario.Config,
		Rounds:             alloc.Rounds(),
		EstimatedRounds:    estimated,
		UsedTokens:         last.UsedTokens,
		SlotTokens:         last.SlotTokens,
		Efficiency:         last.Efficiency(),
		DroppedSamples:     len(lengths) - alloc.Consumed(),
		Utilization:        AnalyzeUtilization(binTokens, scenario.Config.Capacity()),
		SimulationDuration: duration,
	}
	for _, l := range lengths[alloc.Consumed():] {
		sr.DroppedTokens += int64(l)
	}
	return sr
}

// GenerateScenarios creates one scenario per world size and multiplier pair.
func GenerateScenarios(worldSizes, multipliers []int, seqMaxLength, batchSize int) []Scenario {
	var scenarios []Scenario
	for _, ws := range worldSizes {
		for _, m := range multipliers {
			cfg := model.ScenarioConfig{
				WorldSize:    ws,
				SeqMaxLength: seqMaxLength,
				Multiplier:   m,
				BatchSize:    batchSize,
			}
			scenarios = append(scenarios, Scenario{
				Name:   cfg.Label(),
				Config: cfg,
			})
		}
	}
	return scenarios
}
