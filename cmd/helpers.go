package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/guimove/seqpack/internal/dataset"
	"github.com/guimove/seqpack/internal/metrics"
	"github.com/guimove/seqpack/internal/tracing"
)

// addPackingFlags registers the packing geometry flags shared by pack,
// estimate and simulate.
func addPackingFlags(f *pflag.FlagSet) {
	f.Int("seq-max-length", 2048, "maximum sequence length")
	f.Int("batch-size", 1, "sequences per batch, a multiple of --multiplier")
	f.Int("multiplier", 1, "bin capacity in units of --seq-max-length")
	f.Float64("efficiency", 1.0, "expected packing efficiency used by the length estimate (0-1.0]")
	f.Int("devices", 1, "devices sharing the token budget")
	f.Int("world-size", 1, "bins per round (data-parallel ranks)")
	f.Int("rank", 0, "rank whose bins this process consumes")
	f.Int64("total-tokens", 0, "token total for the length estimate (default: sum of sample lengths)")
	f.String("sampler", "sequential", "sample order: sequential, random")
	f.Int64("seed", 0, "random sampler seed")
	f.String("output", "table", "output format: table, json, markdown, yaml")
	f.String("output-file", "", "write output to file")
	f.Int("top", 10, "number of rows to show")
	f.Bool("no-cache", false, "rebuild the dataset index instead of using the cache")
}

// applyPackingFlags copies explicitly set flags over the loaded config.
func applyPackingFlags(f *pflag.FlagSet) error {
	if f.Changed("seq-max-length") {
		cfg.Packing.SeqMaxLength, _ = f.GetInt("seq-max-length")
	}
	if f.Changed("batch-size") {
		cfg.Packing.BatchSize, _ = f.GetInt("batch-size")
	}
	if f.Changed("multiplier") {
		cfg.Packing.SeqLenMultiplier, _ = f.GetInt("multiplier")
	}
	if f.Changed("efficiency") {
		cfg.Packing.EfficiencyEstimate, _ = f.GetFloat64("efficiency")
	}
	if f.Changed("devices") {
		cfg.Packing.DeviceCount, _ = f.GetInt("devices")
	}
	if f.Changed("world-size") {
		cfg.Packing.WorldSize, _ = f.GetInt("world-size")
	}
	if f.Changed("rank") {
		cfg.Packing.Rank, _ = f.GetInt("rank")
	}
	if f.Changed("total-tokens") {
		cfg.Packing.TotalTokens, _ = f.GetInt64("total-tokens")
	}
	if f.Changed("sampler") {
		cfg.Sampler.Kind, _ = f.GetString("sampler")
	}
	if f.Changed("seed") {
		cfg.Sampler.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("output") {
		cfg.Output.Format, _ = f.GetString("output")
	}
	if f.Changed("top") {
		cfg.Output.TopN, _ = f.GetInt("top")
	}
	if noCache, _ := f.GetBool("no-cache"); noCache {
		cfg.Dataset.CacheDir = ""
	}
	return cfg.Validate()
}

// openDataset opens the configured JSONL dataset, reusing a cached line
// index when one is fresh.
func openDataset() (*dataset.JSONL, error) {
	if cfg.Dataset.Path == "" {
		return nil, fmt.Errorf("provide --dataset or set dataset.path")
	}

	opts := []dataset.JSONLOption{dataset.WithLengthFeature(cfg.Dataset.LengthFeature)}
	if cfg.Dataset.CacheDir != "" {
		opts = append(opts, dataset.WithIndexCache(dataset.NewIndexCache(cfg.Dataset.CacheDir, cfg.Dataset.CacheTTL)))
	}

	start := time.Now()
	ds, err := dataset.OpenJSONL(cfg.Dataset.Path, opts...)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"path":     cfg.Dataset.Path,
		"samples":  ds.Len(),
		"features": ds.FeatureNames(),
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Info("opened dataset")
	return ds, nil
}

// outputWriter returns stdout or the --output-file named in f.
func outputWriter(f *pflag.FlagSet) (io.Writer, func(), error) {
	outFile, _ := f.GetString("output-file")
	if outFile == "" {
		return os.Stdout, func() {}, nil
	}
	file, err := os.Create(outFile)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

// telemetry bundles the tracer provider and the metrics registry of a run.
type telemetry struct {
	tracing  *tracing.Provider
	registry *prometheus.Registry
	recorder *metrics.Recorder
	stop     context.CancelFunc
	served   chan error
}

// startTelemetry installs the tracer provider, registers the pipeline
// metrics and, when metrics.listen_addr is set, serves them.
func startTelemetry(ctx context.Context) (*telemetry, error) {
	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	if tp.Enabled() {
		logrus.WithFields(logrus.Fields{
			"endpoint": cfg.Tracing.Endpoint,
			"protocol": cfg.Tracing.Protocol,
		}).Debug("exporting traces")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	t := &telemetry{
		tracing:  tp,
		registry: registry,
		recorder: metrics.NewRecorder(registry),
		stop:     func() {},
	}

	if cfg.Metrics.ListenAddr != "" {
		serveCtx, cancel := context.WithCancel(ctx)
		t.stop = cancel
		t.served = make(chan error, 1)
		go func() {
			t.served <- metrics.Serve(serveCtx, cfg.Metrics.ListenAddr, registry, logrus.StandardLogger())
		}()
	}
	return t, nil
}

// Close writes the metrics textfile, stops the metrics server and flushes
// pending spans.
func (t *telemetry) Close(ctx context.Context) error {
	var firstErr error
	if cfg.Metrics.TextfilePath != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.TextfilePath, t.registry); err != nil {
			firstErr = err
		}
	}

	t.stop()
	if t.served != nil {
		if err := <-t.served; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := t.tracing.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
