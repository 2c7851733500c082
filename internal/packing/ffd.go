package packing

import (
	"sort"
)

// FirstFitDecreasing implements one-dimensional first-fit-decreasing bin packing.
type FirstFitDecreasing struct{}

// Name returns the strategy name.
func (FirstFitDecreasing) Name() string { return "first-fit-decreasing" }

// Fits places sizes largest-first into the first of n bins with enough room
// left and reports whether every item found a bin.
func (FirstFitDecreasing) Fits(sizes []int, n, c int) bool {
	if n <= 0 || c <= 0 {
		return len(sizes) == 0
	}

	remaining := make([]int, n)
	for i := range remaining {
		remaining[i] = c
	}

	for _, idx := range sortDecreasing(sizes) {
		size := sizes[idx]
		placed := false
		for b := range remaining {
			if remaining[b] >= size {
				remaining[b] -= size
				placed = true
				break
			}
		}
		if !placed {
			return false
		}
	}
	return true
}

// Pack runs the same placement as Fits but opens bins on demand and records
// which items landed in each one. Items larger than c get a bin of their own.
func (FirstFitDecreasing) Pack(sizes []int, c, base int) PackResult {
	var (
		remaining []int
		bins      [][]int
		tokens    []int
	)

	for _, idx := range sortDecreasing(sizes) {
		size := sizes[idx]

		bestIdx := -1
		for b := range remaining {
			if remaining[b] >= size {
				bestIdx = b
				break
			}
		}

		if bestIdx >= 0 {
			remaining[bestIdx] -= size
			bins[bestIdx] = append(bins[bestIdx], idx+base)
			tokens[bestIdx] += size
			continue
		}

		// No open bin fits, open a new one
		remaining = append(remaining, c-size)
		bins = append(bins, []int{idx + base})
		tokens = append(tokens, size)
	}

	return PackResult{
		Bins:   bins,
		Tokens: tokens,
		Items:  len(sizes),
	}
}

// sortDecreasing returns item positions ordered by size, largest first.
// Equal sizes keep their original relative order.
func sortDecreasing(sizes []int) []int {
	order := make([]int, len(sizes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return sizes[order[i]] > sizes[order[j]]
	})
	return order
}
