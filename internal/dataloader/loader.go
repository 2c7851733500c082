// Package dataloader packs variable-length samples into fixed-capacity bins
// and streams them, one collated batch per round, to a training loop.
//
// A background producer runs the allocator and pushes this rank's bins onto a
// bounded queue while the consumer concatenates each bin's samples into a
// single record and hands it to the caller's collate function.
package dataloader

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/guimove/seqpack/internal/dataset"
	"github.com/guimove/seqpack/internal/model"
	"github.com/guimove/seqpack/internal/packing"
)

// CollateFunc turns a list of packed records into the caller's batch type.
type CollateFunc[T any] func([]model.Features) (T, error)

// Identity is a CollateFunc that returns the packed records unchanged.
func Identity(records []model.Features) ([]model.Features, error) {
	return records, nil
}

// Stats are the statistics recorded by the latest generation pass.
type Stats struct {
	Fingerprint string
	Rounds      int
	UsedTokens  int64
	SlotTokens  int64
}

// Efficiency returns UsedTokens / SlotTokens.
func (s Stats) Efficiency() float64 {
	if s.SlotTokens == 0 {
		return 0
	}
	return float64(s.UsedTokens) / float64(s.SlotTokens)
}

// Loader is a packing data loader over a dataset. A Loader may start any
// number of iterations; each owns its own queue and producer.
type Loader[T any] struct {
	ds      dataset.Dataset
	collate CollateFunc[T]
	opts    Options
	lengths []int
	total   int64
	log     logrus.FieldLogger

	mu    sync.Mutex
	stats Stats
	has   bool
}

// New creates a Loader. It computes the length array once and rejects
// samples that cannot fit a bin on their own.
func New[T any](ds dataset.Dataset, collate CollateFunc[T], opts Options) (*Loader[T], error) {
	if ds == nil {
		return nil, fmt.Errorf("%w: dataset is required", ErrInvalidOptions)
	}
	if collate == nil {
		return nil, fmt.Errorf("%w: collate function is required", ErrInvalidOptions)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()

	lengths := dataset.Lengths(ds)
	capacity := opts.Capacity()
	var total int64
	for i, l := range lengths {
		if l > capacity {
			return nil, fmt.Errorf("%w: sample %d has %d tokens, bin capacity is %d: %w",
				ErrInvalidOptions, i, l, capacity, packing.ErrItemTooLarge)
		}
		total += int64(l)
	}

	return &Loader[T]{
		ds:      ds,
		collate: collate,
		opts:    opts,
		lengths: lengths,
		total:   total,
		log: opts.Logger.WithFields(logrus.Fields{
			"component": "dataloader",
			"rank":      opts.Rank,
		}),
	}, nil
}

// Options returns the effective options, defaults applied.
func (l *Loader[T]) Options() Options { return l.opts }

// TotalTokens returns the token total used for length estimation.
func (l *Loader[T]) TotalTokens() int64 {
	if l.opts.TotalTokens > 0 {
		return l.opts.TotalTokens
	}
	return l.total
}

// Len returns the number of batches an iteration yields at most. It is an
// estimate shared by all ranks, not the count this rank would produce.
func (l *Loader[T]) Len() int {
	rounds := EstimateRounds(l.TotalTokens(), l.opts.DeviceCount, l.opts.EfficiencyEstimate,
		l.opts.SeqMaxLength, l.opts.BatchSize)
	l.log.WithFields(logrus.Fields{
		"efficiency_estimate": l.opts.EfficiencyEstimate,
		"tokens_per_device":   l.TotalTokens() / int64(l.opts.DeviceCount),
	}).Debug("estimated epoch length")
	return max(1, rounds)
}

// LenWithStats runs a synchronous generation pass when no statistics exist
// yet, logs the estimated against the actual efficiency, and returns Len.
func (l *Loader[T]) LenWithStats(ctx context.Context) (int, error) {
	l.mu.Lock()
	has := l.has
	l.mu.Unlock()

	if !has {
		err := l.safeGenerate(ctx, func(int, []int, int) error { return ctx.Err() })
		if err != nil {
			return 0, fmt.Errorf("collecting packing statistics: %w", err)
		}
	}

	eff, err := l.Efficiency()
	if err != nil {
		return 0, err
	}
	l.log.WithFields(logrus.Fields{
		"efficiency_estimate": l.opts.EfficiencyEstimate,
		"efficiency_actual":   eff,
	}).Info("packing efficiency")
	return l.Len(), nil
}

// Efficiency returns the packing efficiency of the latest generation pass.
func (l *Loader[T]) Efficiency() (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.has || l.stats.SlotTokens == 0 {
		return 0, ErrNoStatistics
	}
	return l.stats.Efficiency(), nil
}

// Stats returns the statistics of the latest generation pass.
func (l *Loader[T]) Stats() (Stats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats, l.has
}

// Lengths returns the per-sample token counts in storage order.
func (l *Loader[T]) Lengths() []int { return l.lengths }

func (l *Loader[T]) recordStats(fingerprint string, r model.Round) {
	l.mu.Lock()
	l.stats = Stats{
		Fingerprint: fingerprint,
		Rounds:      r.Number,
		UsedTokens:  r.UsedTokens,
		SlotTokens:  r.SlotTokens,
	}
	l.has = true
	l.mu.Unlock()
}

// epochOrder draws the dataset indices for one epoch from the sampler.
func (l *Loader[T]) epochOrder() ([]int, error) {
	if l.opts.Sampler == nil {
		return dataset.NewSequential(len(l.lengths)).Indices(), nil
	}
	order := l.opts.Sampler.Indices()
	for _, idx := range order {
		if idx < 0 || idx >= len(l.lengths) {
			return nil, fmt.Errorf("sampler yielded index %d: %w", idx, dataset.ErrOutOfRange)
		}
	}
	return order, nil
}
