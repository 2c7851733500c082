package dataloader

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/guimove/seqpack/internal/dataset"
	"github.com/guimove/seqpack/internal/model"
)

// Iterator is one pass over the loader. It is finite, bounded by Len, and
// not restartable. Close must be called if iteration stops before Next
// returns false; calling it afterwards is harmless.
//
//	it := loader.Iter(ctx)
//	defer it.Close()
//	for it.Next() {
//		train(it.Batch())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator[T any] struct {
	loader *Loader[T]
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan entry
	done   chan struct{}

	features  []string
	remaining int
	segments  int64

	batch    T
	record   model.PackedBatch
	err      error
	finished bool
	stopOnce sync.Once
}

// Iter advances an epoch-aware sampler to its next epoch and starts the
// producer for a new pass.
func (l *Loader[T]) Iter(ctx context.Context) *Iterator[T] {
	if s, ok := l.opts.Sampler.(dataset.EpochSetter); ok {
		epoch := s.Epoch() + 1
		s.SetEpoch(epoch)
		l.log.WithField("epoch", epoch).Info("calling sampler set_epoch")
	}

	ctx, cancel := context.WithCancel(ctx)
	it := &Iterator[T]{
		loader:    l,
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan entry, l.opts.QueueDepth),
		done:      make(chan struct{}),
		features:  l.ds.FeatureNames(),
		remaining: l.Len(),
	}
	go l.produce(ctx, it.queue, it.done)
	return it
}

// Next assembles the next batch. It returns false when the producer is
// exhausted, the round budget is spent, an error occurred or the context
// was cancelled.
func (it *Iterator[T]) Next() bool {
	if it.finished {
		return false
	}
	if it.remaining <= 0 {
		it.finish(nil)
		return false
	}

	var e entry
	select {
	case e = <-it.queue:
	case <-it.ctx.Done():
		it.finish(it.ctx.Err())
		return false
	}
	if e.final {
		it.finish(e.err)
		return false
	}

	batch, record, err := it.assemble(e)
	if err != nil {
		it.finish(err)
		return false
	}
	it.batch = batch
	it.record = record
	it.remaining--
	return true
}

// Batch returns the batch produced by the latest successful Next.
func (it *Iterator[T]) Batch() T { return it.batch }

// Record returns the packed record behind the latest batch.
func (it *Iterator[T]) Record() model.PackedBatch { return it.record }

// Err returns the error that ended iteration, if any.
func (it *Iterator[T]) Err() error { return it.err }

// Close stops the producer and waits for it to exit. An iteration closed
// before Next returned false is recorded as cancelled.
func (it *Iterator[T]) Close() error {
	if it.finished {
		it.stop()
		return nil
	}
	it.finished = true
	it.stop()
	it.loader.opts.Observer.Terminated(context.Canceled)
	return nil
}

func (it *Iterator[T]) finish(err error) {
	it.err = err
	it.finished = true
	it.stop()
	it.loader.opts.Observer.Terminated(err)
}

func (it *Iterator[T]) stop() {
	it.stopOnce.Do(func() {
		it.cancel()
		<-it.done
	})
}

// assemble loads every member of a bin, packs them into one record and
// collates it.
func (it *Iterator[T]) assemble(e entry) (T, model.PackedBatch, error) {
	var zero T
	l := it.loader
	start := time.Now()

	_, span := l.opts.Tracer.Start(it.ctx, "assemble_batch")
	span.SetAttributes(
		attribute.Int("round.number", e.round),
		attribute.Int("batch.members", len(e.indices)),
		attribute.Int("batch.tokens", e.tokens),
	)
	defer span.End()

	members := make([]model.Features, len(e.indices))
	for i, idx := range e.indices {
		f, err := l.ds.Get(idx)
		if err != nil {
			span.RecordError(err)
			return zero, model.PackedBatch{}, err
		}
		members[i] = f
	}

	packed := PackFeatures(members, it.features, l.opts.MaskFeature, it.segments)
	it.segments += int64(len(members))

	batch, err := l.collate([]model.Features{packed})
	if err != nil {
		span.RecordError(err)
		return zero, model.PackedBatch{}, err
	}

	l.opts.Observer.BatchAssembled(e.tokens, time.Since(start))
	return batch, model.PackedBatch{
		ID:       uuid.NewString(),
		Round:    e.round,
		Indices:  e.indices,
		Tokens:   e.tokens,
		Features: packed,
	}, nil
}
