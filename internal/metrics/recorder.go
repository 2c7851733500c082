package metrics

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/guimove/seqpack/internal/model"
)

const (
	namespace = "seqpack"

	// fill ratios are tracked in basis points
	fillScale = 10_000
)

// Outcome label values of the terminations counter.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Recorder exports pipeline events as Prometheus metrics and keeps exact
// percentiles of bin fill and assembly latency. It satisfies the
// dataloader's Observer interface.
type Recorder struct {
	rounds       *prometheus.CounterVec
	samples      *prometheus.CounterVec
	tokens       *prometheus.CounterVec
	efficiency   *prometheus.GaugeVec
	queueDepth   prometheus.Gauge
	terminations *prometheus.CounterVec
	fill         prometheus.Histogram
	assembly     prometheus.Histogram

	mu      sync.Mutex
	fillH   *hdrhistogram.Histogram
	assemH  *hdrhistogram.Histogram
	batches int64
}

// Snapshot holds the percentiles recorded so far.
type Snapshot struct {
	Batches     int64
	FillP50     float64
	FillP90     float64
	FillP99     float64
	AssemblyP50 time.Duration
	AssemblyP99 time.Duration
}

// NewRecorder creates a Recorder whose metrics are registered with reg.
// A nil reg leaves them unregistered.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		rounds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Allocation rounds emitted.",
		}, []string{"rank"}),
		samples: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Samples placed in this rank's bins.",
		}, []string{"rank"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens placed in this rank's bins.",
		}, []string{"rank"}),
		efficiency: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "packing_efficiency",
			Help:      "Used tokens over offered slots since the start of the epoch.",
		}, []string{"rank", "capacity"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Bins waiting to be assembled.",
		}),
		terminations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_finished_total",
			Help:      "Finished iterations by outcome.",
		}, []string{"outcome"}),
		fill: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bin_fill_ratio",
			Help:      "Fraction of bin capacity used.",
			Buckets:   []float64{0.5, 0.75, 0.9, 0.95, 0.98, 0.99, 1},
		}),
		assembly: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_assembly_seconds",
			Help:      "Time spent loading, packing and collating one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		fillH:  hdrhistogram.New(1, fillScale, 3),
		assemH: hdrhistogram.New(1, 60_000_000, 3),
	}
}

// RoundAllocated records the rank's bin of a round.
func (r *Recorder) RoundAllocated(rank int, round model.Round, capacity int) {
	label := strconv.Itoa(rank)
	r.rounds.WithLabelValues(label).Inc()
	r.samples.WithLabelValues(label).Add(float64(len(round.Bin)))
	r.efficiency.WithLabelValues(label, strconv.Itoa(capacity)).Set(round.Efficiency())

	if rank >= len(round.BinTokens) || capacity <= 0 {
		return
	}
	tokens := round.BinTokens[rank]
	r.tokens.WithLabelValues(label).Add(float64(tokens))

	ratio := float64(tokens) / float64(capacity)
	r.fill.Observe(ratio)

	r.mu.Lock()
	_ = r.fillH.RecordValue(clamp(int64(ratio*fillScale), r.fillH))
	r.mu.Unlock()
}

// BatchAssembled records the assembly latency of one batch.
func (r *Recorder) BatchAssembled(_ int, elapsed time.Duration) {
	r.assembly.Observe(elapsed.Seconds())

	r.mu.Lock()
	r.batches++
	_ = r.assemH.RecordValue(clamp(elapsed.Microseconds(), r.assemH))
	r.mu.Unlock()
}

func (r *Recorder) QueueDepth(depth int) {
	r.queueDepth.Set(float64(depth))
}

// Terminated counts a finished iteration by outcome.
func (r *Recorder) Terminated(err error) {
	outcome := OutcomeCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = OutcomeCancelled
	default:
		outcome = OutcomeError
	}
	r.terminations.WithLabelValues(outcome).Inc()
	r.queueDepth.Set(0)
}

// Snapshot returns the percentiles recorded so far.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{Batches: r.batches}
	if r.fillH.TotalCount() > 0 {
		s.FillP50 = float64(r.fillH.ValueAtQuantile(50)) / fillScale
		s.FillP90 = float64(r.fillH.ValueAtQuantile(90)) / fillScale
		s.FillP99 = float64(r.fillH.ValueAtQuantile(99)) / fillScale
	}
	if r.assemH.TotalCount() > 0 {
		s.AssemblyP50 = time.Duration(r.assemH.ValueAtQuantile(50)) * time.Microsecond
		s.AssemblyP99 = time.Duration(r.assemH.ValueAtQuantile(99)) * time.Microsecond
	}
	return s
}

// Reset clears the percentile histograms, typically between epochs.
// Prometheus metrics are cumulative and stay untouched.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.fillH.Reset()
	r.assemH.Reset()
	r.batches = 0
	r.mu.Unlock()
}

func clamp(v int64, h *hdrhistogram.Histogram) int64 {
	if v < h.LowestTrackableValue() {
		return h.LowestTrackableValue()
	}
	if v > h.HighestTrackableValue() {
		return h.HighestTrackableValue()
	}
	return v
}
