package dataloader

import "fmt"

// Chunk splits items into consecutive chunks of at most n elements.
func Chunk[T any](items []T, n int) ([][]T, error) {
	if n < 1 {
		return nil, fmt.Errorf("chunk size must be at least one, got %d", n)
	}
	out := make([][]T, 0, (len(items)+n-1)/n)
	for start := 0; start < len(items); start += n {
		end := min(start+n, len(items))
		out = append(out, items[start:end])
	}
	return out, nil
}
