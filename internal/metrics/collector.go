package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/guimove/seqpack/internal/model"
)

var (
	ErrPrometheusUnreachable = errors.New("prometheus endpoint unreachable")
	ErrNoHistory             = errors.New("no packing history found for the specified criteria")
)

// HistoryCollector abstracts where the efficiencies of earlier runs come from.
type HistoryCollector interface {
	// Collect gathers the efficiency every matching rank last reported.
	Collect(ctx context.Context, opts CollectOptions) (*model.PackingHistory, error)

	// Ping validates connectivity to the backend.
	Ping(ctx context.Context) error

	// BackendType returns the detected backend type.
	BackendType() string
}

// CollectOptions configures history collection.
type CollectOptions struct {
	Window   time.Duration // lookback for the efficiency gauge
	Job      string        // Empty = all jobs
	Capacity int           // 0 = any bin capacity
}
