package packing

import (
	"fmt"
	"sort"

	"github.com/guimove/seqpack/internal/model"
)

// AllocatorConfig fixes the geometry of every round.
type AllocatorConfig struct {
	Rank     int       // bin handed back in Round.Bin
	Bins     int       // bins per round (one per rank)
	Capacity int       // token capacity of a single bin
	Packer   BinPacker // defaults to FirstFitDecreasing
}

// Allocator walks an epoch order front to back and carves it into rounds.
// Each round takes the longest prefix of the remaining input that the packer
// can fit into Bins bins, found by binary search over the prefix length.
// The cursor only moves forward.
type Allocator struct {
	packer  BinPacker
	lengths []int
	cumsum  []int64
	rank    int
	n       int
	c       int

	start  int
	used   int64
	rounds int
	done   bool
}

// NewAllocator creates an allocator over lengths, which must already be in
// epoch order.
func NewAllocator(lengths []int, cfg AllocatorConfig) (*Allocator, error) {
	if cfg.Bins <= 0 || cfg.Capacity <= 0 {
		return nil, fmt.Errorf("%w: bins=%d capacity=%d", ErrInvalidGeometry, cfg.Bins, cfg.Capacity)
	}
	if cfg.Rank < 0 || cfg.Rank >= cfg.Bins {
		return nil, fmt.Errorf("rank %d out of range for %d bins", cfg.Rank, cfg.Bins)
	}
	packer := cfg.Packer
	if packer == nil {
		packer = FirstFitDecreasing{}
	}

	return &Allocator{
		packer:  packer,
		lengths: lengths,
		cumsum:  CumulativeSum(lengths),
		rank:    cfg.Rank,
		n:       cfg.Bins,
		c:       cfg.Capacity,
	}, nil
}

// Next produces the next round. ok is false once the remaining input can no
// longer fill every bin; the undersized tail is never emitted.
func (a *Allocator) Next() (round model.Round, ok bool, err error) {
	if a.done || a.start >= len(a.lengths) {
		a.done = true
		return model.Round{}, false, nil
	}
	if size := a.lengths[a.start]; size > a.c {
		a.done = true
		return model.Round{}, false, fmt.Errorf("%w: position %d has %d tokens, capacity %d",
			ErrItemTooLarge, a.start, size, a.c)
	}

	// Prefixes whose token sum exceeds every bin combined can never fit.
	budget := a.used + int64(a.c)*int64(a.n)
	rest := a.cumsum[a.start:]
	upper := 1 + sort.Search(len(rest), func(i int) bool { return rest[i] > budget })

	// left always fits, right never does
	left, right := 1, upper
	for right-left > 1 {
		mid := (left + right) / 2
		if a.packer.Fits(a.lengths[a.start:a.start+mid], a.n, a.c) {
			left = mid
		} else {
			right = mid
		}
	}

	res := a.packer.Pack(a.lengths[a.start:a.start+left], a.c, a.start)
	if len(res.Bins) != a.n {
		a.done = true
		return model.Round{}, false, nil
	}

	a.start += left
	a.used = a.cumsum[a.start-1]
	a.rounds++

	return model.Round{
		Number:     a.rounds,
		Bin:        res.Bins[a.rank],
		Bins:       res.Bins,
		BinTokens:  res.Tokens,
		Items:      res.Items,
		UsedTokens: a.used,
		SlotTokens: int64(a.rounds) * int64(a.c) * int64(a.n),
	}, true, nil
}

// Consumed returns how many epoch-order positions have been packed so far.
func (a *Allocator) Consumed() int { return a.start }

// Rounds returns the number of rounds emitted so far.
func (a *Allocator) Rounds() int { return a.rounds }

// CumulativeSum returns the running token total at each position.
func CumulativeSum(lengths []int) []int64 {
	out := make([]int64, len(lengths))
	var total int64
	for i, l := range lengths {
		total += int64(l)
		out[i] = total
	}
	return out
}
