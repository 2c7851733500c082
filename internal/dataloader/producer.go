package dataloader

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/guimove/seqpack/internal/packing"
)

// entry is one queued item. The final entry ends the stream and carries the
// error that stopped generation, if any.
type entry struct {
	round   int
	indices []int
	tokens  int
	final   bool
	err     error
}

type emitFunc func(round int, indices []int, tokens int) error

// generate runs the allocator over one epoch order and emits this rank's bin
// of every round, mapped back to dataset indices.
func (l *Loader[T]) generate(ctx context.Context, emit emitFunc) (err error) {
	ctx, span := l.opts.Tracer.Start(ctx, "generate_batches")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	l.log.Info("generating packed batches")

	order, err := l.epochOrder()
	if err != nil {
		return err
	}
	fingerprint := Fingerprint(order)
	l.log.WithField("fingerprint", fingerprint).Info("epoch order")
	span.SetAttributes(
		attribute.String("epoch.fingerprint", fingerprint),
		attribute.Int("epoch.samples", len(order)),
	)

	lengths := make([]int, len(order))
	for i, idx := range order {
		lengths[i] = l.lengths[idx]
	}

	capacity := l.opts.Capacity()
	alloc, err := packing.NewAllocator(lengths, packing.AllocatorConfig{
		Rank:     l.opts.Rank,
		Bins:     l.opts.Replicas,
		Capacity: capacity,
		Packer:   l.opts.Packer,
	})
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, roundSpan := l.opts.Tracer.Start(ctx, "allocate_round")
		round, ok, err := alloc.Next()
		if err != nil {
			roundSpan.RecordError(err)
			roundSpan.SetStatus(codes.Error, err.Error())
			roundSpan.End()
			return err
		}
		if !ok {
			roundSpan.End()
			return nil
		}
		roundSpan.SetAttributes(
			attribute.Int("round.number", round.Number),
			attribute.Int("round.items", round.Items),
			attribute.Int("round.bin_size", len(round.Bin)),
		)
		roundSpan.End()

		indices := make([]int, len(round.Bin))
		tokens := 0
		for i, pos := range round.Bin {
			indices[i] = order[pos]
			tokens += lengths[pos]
		}

		l.recordStats(fingerprint, round)
		l.opts.Observer.RoundAllocated(l.opts.Rank, round, capacity)

		if err := emit(round.Number, indices, tokens); err != nil {
			return err
		}
	}
}

// produce is the producer goroutine of one iteration. It always closes done,
// and pushes a final entry unless the iteration was cancelled.
func (l *Loader[T]) produce(ctx context.Context, queue chan<- entry, done chan<- struct{}) {
	defer close(done)

	err := l.safeGenerate(ctx, func(round int, indices []int, tokens int) error {
		select {
		case queue <- entry{round: round, indices: indices, tokens: tokens}:
			l.opts.Observer.QueueDepth(len(queue))
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if !errors.Is(err, ErrAllocation) {
			err = fmt.Errorf("%w: %w", ErrAllocation, err)
		}
		l.log.WithError(err).Error("batch generation failed")
	}

	select {
	case queue <- entry{final: true, err: err}:
	case <-ctx.Done():
	}
}

// safeGenerate converts a panic inside the packer into an error.
func (l *Loader[T]) safeGenerate(ctx context.Context, emit emitFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: recovered panic: %v", ErrAllocation, r)
		}
	}()
	return l.generate(ctx, emit)
}
