package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the top-level configuration for seqpack.
type Config struct {
	Dataset    DatasetConfig    `mapstructure:"dataset"`
	Packing    PackingConfig    `mapstructure:"packing"`
	Sampler    SamplerConfig    `mapstructure:"sampler"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	History    HistoryConfig    `mapstructure:"history"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Output     OutputConfig     `mapstructure:"output"`
}

type DatasetConfig struct {
	Path          string        `mapstructure:"path"`
	LengthFeature string        `mapstructure:"length_feature"`
	MaskFeature   string        `mapstructure:"mask_feature"`
	CacheDir      string        `mapstructure:"cache_dir"` // empty disables the index cache
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

type PackingConfig struct {
	SeqMaxLength       int     `mapstructure:"seq_max_length"`
	BatchSize          int     `mapstructure:"batch_size"`
	SeqLenMultiplier   int     `mapstructure:"seq_len_multiplier"`
	EfficiencyEstimate float64 `mapstructure:"efficiency_estimate"`
	DeviceCount        int     `mapstructure:"device_count"`
	WorldSize          int     `mapstructure:"world_size"`
	Rank               int     `mapstructure:"rank"`
	TotalTokens        int64   `mapstructure:"total_tokens"` // 0 = sum of dataset lengths
	QueueDepth         int     `mapstructure:"queue_depth"`
	Epochs             int     `mapstructure:"epochs"`
}

type SamplerConfig struct {
	Kind string `mapstructure:"kind"` // sequential | random
	Seed int64  `mapstructure:"seed"`
}

type SimulationConfig struct {
	WorldSizes  []int `mapstructure:"world_sizes"`
	Multipliers []int `mapstructure:"multipliers"`
}

type HistoryConfig struct {
	PrometheusURL string        `mapstructure:"prometheus_url"`
	File          string        `mapstructure:"file"`
	Job           string        `mapstructure:"job"`
	Window        time.Duration `mapstructure:"window"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type KubernetesConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Kubeconfig    string `mapstructure:"kubeconfig"`
	Context       string `mapstructure:"context"`
	Namespace     string `mapstructure:"namespace"`
	LabelSelector string `mapstructure:"label_selector"`
	PodName       string `mapstructure:"pod_name"`
}

type MetricsConfig struct {
	ListenAddr   string `mapstructure:"listen_addr"`   // empty = no HTTP endpoint
	TextfilePath string `mapstructure:"textfile_path"` // empty = no textfile dump
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc | http
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
}

// Enabled reports whether an exporter endpoint is configured.
func (t TracingConfig) Enabled() bool {
	return t.Endpoint != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
}

type OutputConfig struct {
	Format string `mapstructure:"format"`
	TopN   int    `mapstructure:"top_n"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Dataset: DatasetConfig{
			LengthFeature: "input_ids",
			MaskFeature:   "attention_mask",
			CacheDir:      defaultCacheDir(),
			CacheTTL:      24 * time.Hour,
		},
		Packing: PackingConfig{
			SeqMaxLength:       2048,
			BatchSize:          1,
			SeqLenMultiplier:   1,
			EfficiencyEstimate: 1.0,
			DeviceCount:        1,
			WorldSize:          1,
			Rank:               0,
			QueueDepth:         10,
			Epochs:             1,
		},
		Sampler: SamplerConfig{
			Kind: "sequential",
		},
		Simulation: SimulationConfig{
			WorldSizes:  []int{1, 2, 4, 8},
			Multipliers: []int{1, 2, 4},
		},
		History: HistoryConfig{
			Window:  7 * 24 * time.Hour,
			Timeout: 30 * time.Second,
		},
		Kubernetes: KubernetesConfig{
			Namespace: "default",
			PodName:   detectPodName(),
		},
		Tracing: TracingConfig{
			Protocol:    "grpc",
			SampleRate:  1.0,
			ServiceName: "seqpack",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Output: OutputConfig{
			Format: "table",
			TopN:   10,
		},
	}
}

// Validate checks the config for consistency.
func (c *Config) Validate() error {
	p := c.Packing
	if p.SeqMaxLength <= 0 {
		return fmt.Errorf("seq_max_length must be positive, got %d", p.SeqMaxLength)
	}
	if p.SeqLenMultiplier <= 0 {
		return fmt.Errorf("seq_len_multiplier must be positive, got %d", p.SeqLenMultiplier)
	}
	if p.BatchSize < p.SeqLenMultiplier || p.BatchSize%p.SeqLenMultiplier != 0 {
		return fmt.Errorf("batch_size must be a positive multiple of seq_len_multiplier (%d), got %d",
			p.SeqLenMultiplier, p.BatchSize)
	}
	if p.EfficiencyEstimate <= 0 || p.EfficiencyEstimate > 1.0 {
		return fmt.Errorf("efficiency_estimate must be in (0, 1.0], got %v", p.EfficiencyEstimate)
	}
	if p.DeviceCount <= 0 {
		return fmt.Errorf("device_count must be positive, got %d", p.DeviceCount)
	}
	if p.WorldSize <= 0 {
		return fmt.Errorf("world_size must be positive, got %d", p.WorldSize)
	}
	if p.Rank < 0 || p.Rank >= p.WorldSize {
		return fmt.Errorf("rank must be in [0, %d), got %d", p.WorldSize, p.Rank)
	}
	c.Packing.DeviceCount = max(p.DeviceCount, p.WorldSize)
	if p.TotalTokens < 0 {
		return fmt.Errorf("total_tokens must be non-negative, got %d", p.TotalTokens)
	}
	if p.QueueDepth < 0 {
		return fmt.Errorf("queue_depth must be non-negative, got %d", p.QueueDepth)
	}
	if p.Epochs <= 0 {
		c.Packing.Epochs = 1
	}

	validSamplers := map[string]bool{"sequential": true, "random": true}
	if !validSamplers[c.Sampler.Kind] {
		return fmt.Errorf("sampler kind must be sequential or random, got %q", c.Sampler.Kind)
	}

	for _, n := range c.Simulation.WorldSizes {
		if n <= 0 {
			return fmt.Errorf("simulation world sizes must be positive, got %d", n)
		}
	}
	for _, m := range c.Simulation.Multipliers {
		if m <= 0 {
			return fmt.Errorf("simulation multipliers must be positive, got %d", m)
		}
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing sample_rate must be between 0 and 1.0, got %v", c.Tracing.SampleRate)
	}
	validProtocols := map[string]bool{"": true, "grpc": true, "http": true}
	if !validProtocols[c.Tracing.Protocol] {
		return fmt.Errorf("tracing protocol must be grpc or http, got %q", c.Tracing.Protocol)
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("logging format must be text or json, got %q", c.Logging.Format)
	}

	validFormats := map[string]bool{"table": true, "json": true, "markdown": true, "yaml": true}
	if !validFormats[c.Output.Format] {
		return fmt.Errorf("output format must be table, json, markdown, or yaml, got %q", c.Output.Format)
	}
	if c.Output.TopN <= 0 {
		c.Output.TopN = 10
	}
	return nil
}

// Capacity returns the token capacity of a single bin.
func (p PackingConfig) Capacity() int {
	return p.SeqMaxLength * p.SeqLenMultiplier
}

// defaultCacheDir places the dataset index cache under the user cache directory.
func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "seqpack")
}

// detectPodName checks the environment for this pod's name.
func detectPodName() string {
	if n := os.Getenv("POD_NAME"); n != "" {
		return n
	}
	return os.Getenv("HOSTNAME")
}
