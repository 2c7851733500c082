package tracing

import (
	"context"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/guimove/seqpack/internal/config"
)

func TestInitDisabledByDefault(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	p, err := Init(context.Background(), config.TracingConfig{})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if p.Enabled() {
		t.Error("Enabled() = true without an endpoint")
	}

	_, span := p.Tracer().Start(context.Background(), "test")
	defer span.End()
	if span.SpanContext().IsValid() {
		t.Error("expected a no-op span")
	}
}

func TestInitWithEndpoint(t *testing.T) {
	for _, protocol := range []string{"grpc", "http"} {
		t.Run(protocol, func(t *testing.T) {
			p, err := Init(context.Background(), config.TracingConfig{
				Endpoint:   "localhost:4317",
				Protocol:   protocol,
				Insecure:   true,
				SampleRate: 1.0,
			})
			if err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			t.Cleanup(func() {
				// nothing listens on the endpoint; don't wait for export retries
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer cancel()
				_ = p.Shutdown(ctx)
			})

			if !p.Enabled() {
				t.Fatal("Enabled() = false with an endpoint")
			}
			_, span := p.Tracer().Start(context.Background(), "test")
			if !span.SpanContext().IsValid() {
				t.Error("expected a recording span")
			}
			span.End()
		})
	}
}

func TestInitRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TracingConfig
	}{
		{"bad protocol", config.TracingConfig{Endpoint: "localhost:4317", Protocol: "udp"}},
		{"bad sample rate", config.TracingConfig{Endpoint: "localhost:4317", SampleRate: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Init(context.Background(), tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, sdktrace.NeverSample().Description()},
		{1, sdktrace.AlwaysSample().Description()},
		{0.25, sdktrace.TraceIDRatioBased(0.25).Description()},
	}
	for _, tt := range tests {
		if got := newSampler(tt.rate).Description(); got != tt.want {
			t.Errorf("newSampler(%v) = %s, want %s", tt.rate, got, tt.want)
		}
	}
}

func TestNilProvider(t *testing.T) {
	var p *Provider
	if p.Enabled() {
		t.Error("nil provider should be disabled")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
	if p.Tracer() == nil {
		t.Error("nil provider should still hand out a tracer")
	}
}

func TestServiceName(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	if got := serviceName(config.TracingConfig{}); got != "seqpack" {
		t.Errorf("serviceName() = %q, want seqpack", got)
	}

	t.Setenv("OTEL_SERVICE_NAME", "trainer")
	if got := serviceName(config.TracingConfig{}); got != "trainer" {
		t.Errorf("serviceName() = %q, want the environment value", got)
	}
	if got := serviceName(config.TracingConfig{ServiceName: "loader"}); got != "loader" {
		t.Errorf("serviceName() = %q, want the configured value", got)
	}
}
