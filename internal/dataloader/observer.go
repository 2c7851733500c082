package dataloader

import (
	"time"

	"github.com/guimove/seqpack/internal/model"
)

// Observer receives pipeline events. Producer and consumer call it from
// different goroutines, so implementations must be safe for concurrent use.
type Observer interface {
	RoundAllocated(rank int, round model.Round, capacity int)
	BatchAssembled(tokens int, elapsed time.Duration)
	QueueDepth(depth int)
	Terminated(err error)
}

type nopObserver struct{}

func (nopObserver) RoundAllocated(int, model.Round, int) {}
func (nopObserver) BatchAssembled(int, time.Duration) {}
func (nopObserver) QueueDepth(int) {}
func (nopObserver) Terminated(error) {}
