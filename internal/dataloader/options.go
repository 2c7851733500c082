package dataloader

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/guimove/seqpack/internal/dataset"
	"github.com/guimove/seqpack/internal/packing"
)

var (
	ErrInvalidOptions = errors.New("invalid loader options")
	ErrAllocation     = errors.New("batch allocation failed")
	ErrNoStatistics   = errors.New("no packing statistics collected yet")
)

const (
	DefaultSeqMaxLength = 2048
	DefaultQueueDepth   = 10
	DefaultMaskFeature  = "attention_mask"

	tracerName = "github.com/guimove/seqpack/internal/dataloader"
)

// Options configures a Loader. Zero values of the optional fields are
// replaced by their defaults in New.
type Options struct {
	SeqMaxLength     int
	BatchSize        int // must be a positive multiple of SeqLenMultiplier
	SeqLenMultiplier int // bin capacity is SeqMaxLength × SeqLenMultiplier

	// Expected packing efficiency used by the length estimator (default 1.0).
	EfficiencyEstimate float64

	// Devices sharing the token budget, used only by the length estimator.
	// Raised to Replicas when smaller.
	DeviceCount int

	// Bins per round and the bin this loader consumes.
	Replicas int
	Rank     int

	// Overrides the dataset's token total for length estimation when positive.
	TotalTokens int64

	QueueDepth  int
	MaskFeature string

	Sampler  dataset.Sampler   // nil means storage order
	Packer   packing.BinPacker // nil means first-fit-decreasing
	Logger   logrus.FieldLogger
	Tracer   trace.Tracer
	Observer Observer
}

// DefaultOptions returns options for a single worker with 2048-token bins.
func DefaultOptions() Options {
	return Options{
		SeqMaxLength:       DefaultSeqMaxLength,
		BatchSize:          1,
		SeqLenMultiplier:   1,
		EfficiencyEstimate: 1.0,
		DeviceCount:        1,
		Replicas:           1,
		QueueDepth:         DefaultQueueDepth,
		MaskFeature:        DefaultMaskFeature,
	}
}

func (o *Options) applyDefaults() {
	if o.EfficiencyEstimate == 0 {
		o.EfficiencyEstimate = 1.0
	}
	if o.Replicas == 0 {
		o.Replicas = 1
	}
	// Every replica consumes its own share of the tokens.
	o.DeviceCount = max(o.DeviceCount, o.Replicas)
	if o.QueueDepth == 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	if o.MaskFeature == "" {
		o.MaskFeature = DefaultMaskFeature
	}
	if o.Packer == nil {
		o.Packer = packing.FirstFitDecreasing{}
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
}

// Validate checks the packing geometry and returns the first problem found.
func (o Options) Validate() error {
	if o.SeqMaxLength <= 0 {
		return fmt.Errorf("%w: seq_max_length must be positive, got %d", ErrInvalidOptions, o.SeqMaxLength)
	}
	if o.SeqLenMultiplier <= 0 {
		return fmt.Errorf("%w: seq_len_multiplier must be positive, got %d", ErrInvalidOptions, o.SeqLenMultiplier)
	}
	if o.BatchSize < o.SeqLenMultiplier {
		return fmt.Errorf("%w: batch_size %d is smaller than seq_len_multiplier %d",
			ErrInvalidOptions, o.BatchSize, o.SeqLenMultiplier)
	}
	if o.BatchSize%o.SeqLenMultiplier != 0 {
		return fmt.Errorf("%w: batch_size %d is not a multiple of seq_len_multiplier %d",
			ErrInvalidOptions, o.BatchSize, o.SeqLenMultiplier)
	}
	if math.IsNaN(o.EfficiencyEstimate) || o.EfficiencyEstimate < 0 {
		return fmt.Errorf("%w: efficiency_estimate must be positive, got %g", ErrInvalidOptions, o.EfficiencyEstimate)
	}
	if o.DeviceCount < 0 {
		return fmt.Errorf("%w: device_count must be positive, got %d", ErrInvalidOptions, o.DeviceCount)
	}
	if o.Replicas < 0 {
		return fmt.Errorf("%w: replicas must be positive, got %d", ErrInvalidOptions, o.Replicas)
	}
	replicas := o.Replicas
	if replicas == 0 {
		replicas = 1
	}
	if o.Rank < 0 || o.Rank >= replicas {
		return fmt.Errorf("%w: rank %d out of range for %d replicas", ErrInvalidOptions, o.Rank, replicas)
	}
	if o.TotalTokens < 0 {
		return fmt.Errorf("%w: total_tokens must not be negative", ErrInvalidOptions)
	}
	if o.QueueDepth < 0 {
		return fmt.Errorf("%w: queue_depth must not be negative", ErrInvalidOptions)
	}
	return nil
}

// Capacity returns the token capacity of a single bin.
func (o Options) Capacity() int {
	return o.SeqMaxLength * o.SeqLenMultiplier
}
