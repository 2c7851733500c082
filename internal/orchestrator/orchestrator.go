package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/guimove/seqpack/internal/config"
	"github.com/guimove/seqpack/internal/dataloader"
	"github.com/guimove/seqpack/internal/dataset"
	"github.com/guimove/seqpack/internal/metrics"
	"github.com/guimove/seqpack/internal/model"
	"github.com/guimove/seqpack/internal/packing"
	"github.com/guimove/seqpack/internal/report"
)

// previewBatches is how many packed batches of the last epoch the table report lists.
const previewBatches = 3

// Efficiency sources reported alongside the estimate.
const (
	SourceConfigured = "configured"
)

// Orchestrator coordinates packing runs, estimates and simulations over one dataset.
type Orchestrator struct {
	Config  config.Config
	Dataset dataset.Dataset

	// History calibrates the efficiency estimate when set.
	History metrics.HistoryCollector

	Recorder *metrics.Recorder
	Tracer   trace.Tracer
	Logger   logrus.FieldLogger

	// Writer receives the report.
	Writer io.Writer

	// Records receives one JSON line per packed batch when set.
	Records io.Writer
}

// New creates an orchestrator with the given dependencies.
func New(cfg config.Config, ds dataset.Dataset) *Orchestrator {
	return &Orchestrator{
		Config:   cfg,
		Dataset:  ds,
		Recorder: metrics.NewRecorder(nil),
		Logger:   logrus.StandardLogger(),
		Writer:   os.Stdout,
	}
}

// Calibration is the efficiency estimate in effect and where it came from.
type Calibration struct {
	Efficiency   float64
	Source       string
	Observations int
}

// Calibrate resolves the efficiency estimate. With a history collector the
// highest efficiency any matching rank reported wins, so the round budget is
// one every rank could fill; otherwise the configured value is used.
func (o *Orchestrator) Calibrate(ctx context.Context) (Calibration, error) {
	configured := Calibration{
		Efficiency: o.Config.Packing.EfficiencyEstimate,
		Source:     SourceConfigured,
	}
	if o.History == nil {
		return configured, nil
	}

	o.Logger.WithField("backend", o.History.BackendType()).Info("collecting packing history")

	history, err := o.History.Collect(ctx, metrics.CollectOptions{
		Window:   o.Config.History.Window,
		Job:      o.Config.History.Job,
		Capacity: o.Config.Packing.Capacity(),
	})
	if errors.Is(err, metrics.ErrNoHistory) {
		o.Logger.WithError(err).Warn("no packing history, keeping the configured efficiency estimate")
		return configured, nil
	}
	if err != nil {
		return Calibration{}, fmt.Errorf("collecting packing history: %w", err)
	}

	eff := history.MaxEfficiency()
	if eff <= 0 {
		return configured, nil
	}
	eff = min(eff, 1.0)

	o.Logger.WithFields(logrus.Fields{
		"efficiency":   eff,
		"observations": len(history.Observations),
		"backend":      o.History.BackendType(),
	}).Info("calibrated efficiency estimate")

	return Calibration{
		Efficiency:   eff,
		Source:       o.History.BackendType(),
		Observations: len(history.Observations),
	}, nil
}

// Pack runs the configured number of epochs over the dataset, optionally
// writes every packed batch to Records, and reports one row per epoch.
func (o *Orchestrator) Pack(ctx context.Context) ([]model.EpochReport, error) {
	cfg := o.Config

	cal, err := o.Calibrate(ctx)
	if err != nil {
		return nil, err
	}

	loader, err := dataloader.New(o.Dataset, dataloader.Identity, o.loaderOptions(cal.Efficiency))
	if err != nil {
		return nil, fmt.Errorf("creating loader: %w", err)
	}

	o.Logger.WithFields(logrus.Fields{
		"samples":    o.Dataset.Len(),
		"capacity":   cfg.Packing.Capacity(),
		"rank":       cfg.Packing.Rank,
		"world_size": cfg.Packing.WorldSize,
		"epochs":     cfg.Packing.Epochs,
	}).Info("packing dataset")

	var (
		reports []model.EpochReport
		preview []model.PackedBatch
		enc     *json.Encoder
	)
	if o.Records != nil {
		enc = json.NewEncoder(o.Records)
	}

	for epoch := 1; epoch <= cfg.Packing.Epochs; epoch++ {
		rep, batches, err := o.runEpoch(ctx, loader, epoch, enc)
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
		preview = batches
	}

	meta := o.meta(cal)
	meta.Preview = preview
	reporter := report.NewReporter(cfg.Output.Format, o.Writer)
	if err := reporter.ReportEpochs(ctx, reports, meta); err != nil {
		return reports, fmt.Errorf("generating report: %w", err)
	}
	return reports, nil
}

// runEpoch drains one iteration. Allocation and collate failures end the
// epoch and are recorded in its report; cancellation and write failures
// are returned.
func (o *Orchestrator) runEpoch(
	ctx context.Context,
	loader *dataloader.Loader[[]model.Features],
	epoch int,
	enc *json.Encoder,
) (model.EpochReport, []model.PackedBatch, error) {
	start := time.Now()
	recorder := o.recorder()
	recorder.Reset()

	rep := model.EpochReport{
		Epoch:           epoch,
		EstimatedRounds: loader.Len(),
	}
	var preview []model.PackedBatch

	it := loader.Iter(ctx)
	defer it.Close()

	for it.Next() {
		rec := it.Record()
		rep.Batches++
		rep.Samples += len(rec.Indices)
		rep.Tokens += int64(rec.Tokens)

		if len(preview) < previewBatches {
			preview = append(preview, model.PackedBatch{Round: rec.Round, Indices: rec.Indices, Tokens: rec.Tokens})
		}
		if enc != nil {
			if err := enc.Encode(rec); err != nil {
				return rep, nil, fmt.Errorf("writing packed batch: %w", err)
			}
		}
	}

	if err := it.Err(); err != nil {
		if ctx.Err() != nil {
			return rep, nil, ctx.Err()
		}
		rep.Error = err.Error()
		o.Logger.WithError(err).WithField("epoch", epoch).Warn("epoch ended early")
	}

	if stats, ok := loader.Stats(); ok {
		rep.Fingerprint = stats.Fingerprint
		rep.Efficiency = stats.Efficiency()
	}
	snap := recorder.Snapshot()
	rep.FillP50 = snap.FillP50
	rep.FillP90 = snap.FillP90
	rep.FillP99 = snap.FillP99
	rep.Duration = time.Since(start)

	o.Logger.WithFields(logrus.Fields{
		"epoch":      epoch,
		"batches":    rep.Batches,
		"efficiency": rep.Efficiency,
	}).Info("epoch complete")

	return rep, preview, nil
}

// Estimate is the length a loader reports for the current configuration.
type Estimate struct {
	Rounds      int
	TotalTokens int64
	Calibration Calibration

	// Filled by a statistics pass
	ActualRounds     int
	ActualEfficiency float64
}

// Estimate computes the epoch length. With withStats it also runs one
// generation pass and records the efficiency actually achieved.
func (o *Orchestrator) Estimate(ctx context.Context, withStats bool) (*Estimate, error) {
	cal, err := o.Calibrate(ctx)
	if err != nil {
		return nil, err
	}

	loader, err := dataloader.New(o.Dataset, dataloader.Identity, o.loaderOptions(cal.Efficiency))
	if err != nil {
		return nil, fmt.Errorf("creating loader: %w", err)
	}

	est := &Estimate{
		Rounds:      loader.Len(),
		TotalTokens: loader.TotalTokens(),
		Calibration: cal,
	}
	if !withStats {
		return est, nil
	}

	if _, err := loader.LenWithStats(ctx); err != nil {
		return nil, err
	}
	stats, _ := loader.Stats()
	est.ActualRounds = stats.Rounds
	est.ActualEfficiency = stats.Efficiency()
	return est, nil
}

// Simulate sweeps the configured world sizes and multipliers over the
// sampler's initial order and reports the scenarios ranked by efficiency.
func (o *Orchestrator) Simulate(ctx context.Context) ([]model.SimulationResult, error) {
	cfg := o.Config

	cal, err := o.Calibrate(ctx)
	if err != nil {
		return nil, err
	}

	order := newSampler(cfg.Sampler, o.Dataset.Len()).Indices()
	lengths := make([]int, len(order))
	for i, idx := range order {
		lengths[i] = o.Dataset.Length(idx)
	}

	// Keep the configured sequences per bin as the multiplier varies.
	perBin := max(1, cfg.Packing.BatchSize/cfg.Packing.SeqLenMultiplier)
	scenarios := packing.GenerateScenarios(cfg.Simulation.WorldSizes, cfg.Simulation.Multipliers,
		cfg.Packing.SeqMaxLength, perBin)
	for i := range scenarios {
		scenarios[i].Config.BatchSize = perBin * scenarios[i].Config.Multiplier
	}

	o.Logger.WithFields(logrus.Fields{
		"scenarios": len(scenarios),
		"samples":   len(lengths),
	}).Info("running simulation scenarios")

	engine := packing.NewEngine(packing.FirstFitDecreasing{}, Estimator(cal.Efficiency))
	results, err := engine.RunAll(ctx, scenarios, lengths)
	if err != nil {
		return nil, fmt.Errorf("running simulations: %w", err)
	}

	reporter := report.NewReporter(cfg.Output.Format, o.Writer)
	if err := reporter.ReportSimulations(ctx, results, o.meta(cal)); err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}
	return results, nil
}

// Estimator adapts the loader's length estimate to simulation scenarios,
// treating every bin of a round as one device.
func Estimator(efficiency float64) packing.Estimator {
	return func(totalTokens int64, sc model.ScenarioConfig) int {
		batch := max(sc.BatchSize, sc.Multiplier)
		return max(1, dataloader.EstimateRounds(totalTokens, sc.WorldSize, efficiency, sc.SeqMaxLength, batch))
	}
}

func (o *Orchestrator) loaderOptions(efficiency float64) dataloader.Options {
	p := o.Config.Packing
	return dataloader.Options{
		SeqMaxLength:       p.SeqMaxLength,
		BatchSize:          p.BatchSize,
		SeqLenMultiplier:   p.SeqLenMultiplier,
		EfficiencyEstimate: efficiency,
		DeviceCount:        p.DeviceCount,
		Replicas:           p.WorldSize,
		Rank:               p.Rank,
		TotalTokens:        p.TotalTokens,
		QueueDepth:         p.QueueDepth,
		MaskFeature:        o.Config.Dataset.MaskFeature,
		Sampler:            newSampler(o.Config.Sampler, o.Dataset.Len()),
		Logger:             o.Logger,
		Tracer:             o.Tracer,
		Observer:           o.recorder(),
	}
}

func (o *Orchestrator) recorder() *metrics.Recorder {
	if o.Recorder == nil {
		o.Recorder = metrics.NewRecorder(nil)
	}
	return o.Recorder
}

func (o *Orchestrator) meta(cal Calibration) report.ReportMeta {
	cfg := o.Config
	return report.ReportMeta{
		Dataset:     cfg.Dataset.Path,
		Samples:     o.Dataset.Len(),
		TotalTokens: dataset.TotalTokens(o.Dataset),
		GeneratedAt: time.Now().UTC(),
		Packing: model.ScenarioConfig{
			WorldSize:    cfg.Packing.WorldSize,
			SeqMaxLength: cfg.Packing.SeqMaxLength,
			Multiplier:   cfg.Packing.SeqLenMultiplier,
			BatchSize:    cfg.Packing.BatchSize,
		},
		Rank:               cfg.Packing.Rank,
		Sampler:            cfg.Sampler.Kind,
		EfficiencyEstimate: cal.Efficiency,
		EfficiencySource:   cal.Source,
		TopN:               cfg.Output.TopN,
	}
}

func newSampler(cfg config.SamplerConfig, n int) dataset.Sampler {
	if cfg.Kind == "random" {
		return dataset.NewRandom(n, cfg.Seed)
	}
	return dataset.NewSequential(n)
}
