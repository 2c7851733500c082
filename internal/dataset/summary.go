package dataset

import (
	"sort"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/guimove/seqpack/internal/model"
)

// Summary describes the length distribution of a dataset against a bin capacity.
type Summary struct {
	Samples  int      `json:"samples"`
	Tokens   int64    `json:"tokens"`
	Features []string `json:"features"`

	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`
	P50  int     `json:"p50"`
	P90  int     `json:"p90"`
	P99  int     `json:"p99"`

	// Samples that cannot fit a bin of Capacity tokens on their own
	Capacity int `json:"capacity"`
	Oversize int `json:"oversize"`

	// Longest samples, features omitted
	Longest []model.Sample `json:"longest"`
}

// Describe summarizes the sample lengths of ds and lists its top longest samples.
func Describe(ds Dataset, capacity, top int) (Summary, error) {
	lengths := Lengths(ds)
	if len(lengths) == 0 {
		return Summary{}, ErrNoSamples
	}

	s := Summary{
		Samples:  len(lengths),
		Features: ds.FeatureNames(),
		Capacity: capacity,
		Min:      lengths[0],
	}
	for _, l := range lengths {
		s.Tokens += int64(l)
		s.Min = min(s.Min, l)
		s.Max = max(s.Max, l)
		if capacity > 0 && l > capacity {
			s.Oversize++
		}
	}
	s.Mean = float64(s.Tokens) / float64(len(lengths))

	h := hdrhistogram.New(1, int64(max(2, s.Max)), 3)
	for _, l := range lengths {
		_ = h.RecordValue(int64(l))
	}
	// Percentiles are reported at the histogram's bucket resolution.
	s.P50 = min(s.Max, int(h.ValueAtQuantile(50)))
	s.P90 = min(s.Max, int(h.ValueAtQuantile(90)))
	s.P99 = min(s.Max, int(h.ValueAtQuantile(99)))

	order := make([]int, len(lengths))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return lengths[order[a]] > lengths[order[b]] })
	for _, idx := range order[:min(top, len(order))] {
		s.Longest = append(s.Longest, model.Sample{Index: idx, Length: lengths[idx]})
	}
	return s, nil
}
