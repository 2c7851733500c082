package metrics

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	prommodel "github.com/prometheus/common/model"

	"github.com/guimove/seqpack/internal/model"
)

// PrometheusCollector reads past packing efficiencies from any backend
// speaking the Prometheus query API.
type PrometheusCollector struct {
	api      promv1.API
	endpoint string
	backend  string
	timeout  time.Duration
}

// PrometheusOption configures the Prometheus collector.
type PrometheusOption func(*PrometheusCollector)

// WithTimeout sets the query timeout.
func WithTimeout(d time.Duration) PrometheusOption {
	return func(c *PrometheusCollector) { c.timeout = d }
}

// NewPrometheusCollector creates a collector connected to the given endpoint.
func NewPrometheusCollector(endpoint string, opts ...PrometheusOption) (*PrometheusCollector, error) {
	client, err := promapi.NewClient(promapi.Config{
		Address: endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("creating prometheus client: %w", err)
	}

	c := &PrometheusCollector{
		api:      promv1.NewAPI(client),
		endpoint: endpoint,
		backend:  "prometheus",
		timeout:  30 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Ping checks connectivity and detects the backend type.
func (c *PrometheusCollector) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, _, err := c.api.Query(ctx, "up", time.Now()); err != nil {
		return fmt.Errorf("%w: %v", ErrPrometheusUnreachable, err)
	}

	c.detectBackend(ctx)
	return nil
}

// BackendType returns the detected backend type.
func (c *PrometheusCollector) BackendType() string {
	return c.backend
}

// backendProbes maps a backend name to a series only that backend exposes
// about itself. Names match kube.MetricsService.Type.
var backendProbes = []struct {
	backend string
	query   string
}{
	{"thanos", "thanos_store_nodes_total"},
	{"victoria-metrics", "vm_app_version"},
}

func (c *PrometheusCollector) detectBackend(ctx context.Context) {
	for _, p := range backendProbes {
		result, _, err := c.api.Query(ctx, p.query, time.Now())
		if err == nil && result != nil && result.String() != "" {
			c.backend = p.backend
			return
		}
	}
}

// Collect queries the highest efficiency every rank reported in the window.
func (c *PrometheusCollector) Collect(ctx context.Context, opts CollectOptions) (*model.PackingHistory, error) {
	window := opts.Window
	if window == 0 {
		window = 7 * 24 * time.Hour
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	now := time.Now()
	query := queryEfficiency(opts.Job, opts.Capacity, prommodel.Duration(window).String())
	result, warnings, err := c.api.Query(queryCtx, query, now)
	if err != nil {
		return nil, fmt.Errorf("querying packing efficiency: %w", err)
	}

	observations := extractObservations(result)
	if len(observations) == 0 {
		detail := ""
		if len(warnings) > 0 {
			detail = "; warnings: " + strings.Join(warnings, ", ")
		}
		return nil, fmt.Errorf("%w%s", ErrNoHistory, detail)
	}

	return &model.PackingHistory{
		CollectedAt:  now,
		Window:       window,
		Observations: observations,
	}, nil
}

// extractObservations converts a Prometheus vector into efficiency observations.
func extractObservations(v prommodel.Value) []model.EfficiencyObservation {
	vec, ok := v.(prommodel.Vector)
	if !ok {
		return nil
	}

	var out []model.EfficiencyObservation
	for _, sample := range vec {
		eff := float64(sample.Value)
		if math.IsNaN(eff) || eff <= 0 {
			continue
		}
		capacity, _ := strconv.Atoi(string(sample.Metric["capacity"]))
		out = append(out, model.EfficiencyObservation{
			Job:        string(sample.Metric["job"]),
			Rank:       string(sample.Metric["rank"]),
			Capacity:   capacity,
			Efficiency: eff,
		})
	}
	return out
}
