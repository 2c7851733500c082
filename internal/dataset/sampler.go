package dataset

import (
	"math/rand"
	"sync"
)

// Sampler yields the epoch order: a permutation (or subset) of dataset indices.
type Sampler interface {
	Indices() []int
}

// EpochSetter is implemented by samplers whose order depends on the epoch.
type EpochSetter interface {
	Epoch() int
	SetEpoch(epoch int)
}

// Sequential yields 0..n-1 in storage order.
type Sequential struct {
	n int
}

func NewSequential(n int) *Sequential {
	return &Sequential{n: n}
}

func (s *Sequential) Indices() []int {
	out := make([]int, s.n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Random yields a permutation seeded by seed+epoch, so every replica sharing
// a seed draws the same order for the same epoch.
type Random struct {
	n    int
	seed int64

	mu    sync.Mutex
	epoch int
}

func NewRandom(n int, seed int64) *Random {
	return &Random{n: n, seed: seed}
}

func (r *Random) Indices() []int {
	r.mu.Lock()
	epoch := r.epoch
	r.mu.Unlock()

	rng := rand.New(rand.NewSource(r.seed + int64(epoch)))
	return rng.Perm(r.n)
}

func (r *Random) Epoch() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

func (r *Random) SetEpoch(epoch int) {
	r.mu.Lock()
	r.epoch = epoch
	r.mu.Unlock()
}
