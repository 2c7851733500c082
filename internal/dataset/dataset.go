// Package dataset provides tokenized sample sources and the samplers that
// order them for an epoch.
package dataset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/guimove/seqpack/internal/model"
)

// DefaultLengthFeature is the feature whose value count is a sample's length.
const DefaultLengthFeature = "input_ids"

var (
	ErrNoSamples    = errors.New("dataset contains no samples")
	ErrOutOfRange   = errors.New("sample index out of range")
	ErrMalformedRow = errors.New("malformed dataset row")
)

// Dataset is an indexable collection of tokenized samples.
// Implementations must be safe for concurrent reads.
type Dataset interface {
	// Len returns the number of samples.
	Len() int

	// Length returns the token count of sample i.
	Length(i int) int

	// Get returns the full feature mapping of sample i.
	Get(i int) (model.Features, error)

	// FeatureNames returns every feature name seen in the dataset, in first-seen order.
	FeatureNames() []string
}

// Lengths returns the length array of ds in storage order.
func Lengths(ds Dataset) []int {
	out := make([]int, ds.Len())
	for i := range out {
		out[i] = ds.Length(i)
	}
	return out
}

// TotalTokens returns the sum of all sample lengths.
func TotalTokens(ds Dataset) int64 {
	var total int64
	for i := 0; i < ds.Len(); i++ {
		total += int64(ds.Length(i))
	}
	return total
}

// Memory is a Dataset held entirely in memory.
type Memory struct {
	samples  []model.Features
	lengths  []int
	features []string
}

// NewMemory builds an in-memory dataset. Each sample's length is the value
// count of lengthFeature (DefaultLengthFeature when empty).
func NewMemory(samples []model.Features, lengthFeature string) *Memory {
	if lengthFeature == "" {
		lengthFeature = DefaultLengthFeature
	}

	m := &Memory{
		samples: samples,
		lengths: make([]int, len(samples)),
	}
	seen := make(map[string]bool)
	for i, s := range samples {
		m.lengths[i] = s.Len(lengthFeature)
		for _, name := range sortedKeys(s) {
			if !seen[name] {
				seen[name] = true
				m.features = append(m.features, name)
			}
		}
	}
	return m
}

func (m *Memory) Len() int { return len(m.samples) }

func (m *Memory) Length(i int) int { return m.lengths[i] }

func (m *Memory) Get(i int) (model.Features, error) {
	if i < 0 || i >= len(m.samples) {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, i)
	}
	return m.samples[i], nil
}

func (m *Memory) FeatureNames() []string { return m.features }

func sortedKeys(f model.Features) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
