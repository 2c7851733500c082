package dataset

import (
	"errors"
	"testing"

	"github.com/guimove/seqpack/internal/model"
)

func lengthDataset(lengths ...int) *Memory {
	samples := make([]model.Features, len(lengths))
	for i, n := range lengths {
		samples[i] = model.Features{"input_ids": make([]int64, n)}
	}
	return NewMemory(samples, "")
}

func TestDescribe(t *testing.T) {
	lengths := make([]int, 100)
	for i := range lengths {
		lengths[i] = i + 1
	}

	s, err := Describe(lengthDataset(lengths...), 80, 3)
	if err != nil {
		t.Fatalf("Describe() error: %v", err)
	}

	if s.Samples != 100 || s.Tokens != 5050 {
		t.Errorf("samples=%d tokens=%d, want 100/5050", s.Samples, s.Tokens)
	}
	if s.Min != 1 || s.Max != 100 || s.Mean != 50.5 {
		t.Errorf("min=%d max=%d mean=%v, want 1/100/50.5", s.Min, s.Max, s.Mean)
	}
	if s.P50 != 50 || s.P90 != 90 || s.P99 != 99 {
		t.Errorf("p50=%d p90=%d p99=%d, want 50/90/99", s.P50, s.P90, s.P99)
	}
	if s.Oversize != 20 {
		t.Errorf("oversize = %d, want 20", s.Oversize)
	}

	if len(s.Longest) != 3 {
		t.Fatalf("expected 3 longest samples, got %d", len(s.Longest))
	}
	for i, want := range []int{99, 98, 97} {
		if s.Longest[i].Index != want || s.Longest[i].Length != want+1 {
			t.Errorf("Longest[%d] = %+v, want index %d", i, s.Longest[i], want)
		}
	}
}

func TestDescribe_TopExceedsSamples(t *testing.T) {
	s, err := Describe(lengthDataset(3, 3), 0, 10)
	if err != nil {
		t.Fatalf("Describe() error: %v", err)
	}
	if len(s.Longest) != 2 {
		t.Errorf("expected 2 longest samples, got %d", len(s.Longest))
	}
	if s.Longest[0].Index != 0 {
		t.Errorf("ties should keep storage order, got %+v", s.Longest)
	}
	if s.Oversize != 0 {
		t.Errorf("capacity 0 should not flag oversize samples, got %d", s.Oversize)
	}
}

func TestDescribe_Empty(t *testing.T) {
	if _, err := Describe(lengthDataset(), 10, 1); !errors.Is(err, ErrNoSamples) {
		t.Errorf("expected ErrNoSamples, got %v", err)
	}
}
