package dataloader

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/guimove/seqpack/internal/dataset"
	"github.com/guimove/seqpack/internal/model"
	"github.com/guimove/seqpack/internal/packing"
)

// memoryDataset builds samples with the given lengths. Sample i holds
// input_ids i*100, i*100+1, ... and an all-ones attention mask.
func memoryDataset(lengths ...int) *dataset.Memory {
	samples := make([]model.Features, len(lengths))
	for i, n := range lengths {
		ids := make([]int64, n)
		mask := make([]int64, n)
		for j := range ids {
			ids[j] = int64(i*100 + j)
			mask[j] = 1
		}
		samples[i] = model.Features{"input_ids": ids, "attention_mask": mask}
	}
	return dataset.NewMemory(samples, "")
}

// testOptions returns options with capacity seqMax and a round budget large
// enough that only the producer ends iteration.
func testOptions(seqMax int) (Options, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	opts := DefaultOptions()
	opts.SeqMaxLength = seqMax
	opts.TotalTokens = 1 << 32
	opts.Logger = logger
	return opts, hook
}

func newLoader(t *testing.T, ds dataset.Dataset, opts Options) *Loader[[]model.Features] {
	t.Helper()
	l, err := New(ds, Identity, opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return l
}

func collect[T any](t *testing.T, it *Iterator[T]) []model.PackedBatch {
	t.Helper()
	defer it.Close()

	var records []model.PackedBatch
	for it.Next() {
		records = append(records, it.Record())
	}
	return records
}

func assertJoined[T any](t *testing.T, it *Iterator[T]) {
	t.Helper()
	select {
	case <-it.done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer goroutine was not joined")
	}
}

func TestLoader_EqualHalves(t *testing.T) {
	opts, _ := testOptions(10)
	l := newLoader(t, memoryDataset(5, 5, 5, 5), opts)

	it := l.Iter(context.Background())
	records := collect(t, it)
	if err := it.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(records))
	}
	for i, r := range records {
		if r.Tokens != 10 || len(r.Indices) != 2 {
			t.Errorf("batch %d: tokens=%d indices=%v, want 10 tokens from 2 samples", i, r.Tokens, r.Indices)
		}
		if got := len(r.Features["input_ids"]); got != 10 {
			t.Errorf("batch %d: %d input_ids, want 10", i, got)
		}
		if r.Round != i+1 {
			t.Errorf("batch %d: Round = %d", i, r.Round)
		}
		if r.ID == "" {
			t.Errorf("batch %d: missing ID", i)
		}
	}

	eff, err := l.Efficiency()
	if err != nil {
		t.Fatal(err)
	}
	if eff != 1.0 {
		t.Errorf("Efficiency() = %v, want 1.0", eff)
	}
	assertJoined(t, it)
}

func TestLoader_TwoRanks(t *testing.T) {
	for rank := 0; rank < 2; rank++ {
		opts, _ := testOptions(10)
		opts.Replicas = 2
		opts.Rank = rank
		l := newLoader(t, memoryDataset(9, 1, 9, 1), opts)

		it := l.Iter(context.Background())
		records := collect(t, it)
		if err := it.Err(); err != nil {
			t.Fatalf("rank %d: Err() = %v", rank, err)
		}
		if len(records) != 1 {
			t.Fatalf("rank %d: expected 1 batch, got %d", rank, len(records))
		}
		if records[0].Tokens != 10 {
			t.Errorf("rank %d: tokens = %d, want 10", rank, records[0].Tokens)
		}
	}
}

func TestLoader_SegmentIDsAcrossRounds(t *testing.T) {
	opts, _ := testOptions(5)
	l := newLoader(t, memoryDataset(3, 2, 2, 1), opts)

	it := l.Iter(context.Background())
	records := collect(t, it)
	if len(records) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(records))
	}

	wantMasks := [][]int64{
		{1, 1, 1, 2, 2},
		{3, 3, 4},
	}
	wantIDs := [][]int64{
		{0, 1, 2, 100, 101},
		{200, 201, 300},
	}
	for i, r := range records {
		if !reflect.DeepEqual(r.Features["attention_mask"], wantMasks[i]) {
			t.Errorf("round %d mask = %v, want %v", i+1, r.Features["attention_mask"], wantMasks[i])
		}
		if !reflect.DeepEqual(r.Features["input_ids"], wantIDs[i]) {
			t.Errorf("round %d input_ids = %v, want %v", i+1, r.Features["input_ids"], wantIDs[i])
		}
	}
}

type panickingPacker struct {
	packing.FirstFitDecreasing
}

func (panickingPacker) Fits([]int, int, int) bool {
	panic("packer exploded")
}

func TestLoader_AllocationFault(t *testing.T) {
	opts, hook := testOptions(10)
	opts.Packer = panickingPacker{}
	l := newLoader(t, memoryDataset(1, 1, 1, 1), opts)

	it := l.Iter(context.Background())
	records := collect(t, it)
	if len(records) != 0 {
		t.Errorf("expected no batches, got %d", len(records))
	}
	if !errors.Is(it.Err(), ErrAllocation) {
		t.Fatalf("Err() = %v, want ErrAllocation", it.Err())
	}
	assertJoined(t, it)

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "batch generation failed" {
			logged = true
		}
	}
	if !logged {
		t.Error("expected the producer to log the failure")
	}
}

type fixedSampler []int

func (s fixedSampler) Indices() []int { return s }

func TestLoader_SamplerOutOfRange(t *testing.T) {
	opts, _ := testOptions(10)
	opts.Sampler = fixedSampler{0, 99}
	l := newLoader(t, memoryDataset(5, 5), opts)

	it := l.Iter(context.Background())
	collect(t, it)
	if !errors.Is(it.Err(), ErrAllocation) || !errors.Is(it.Err(), dataset.ErrOutOfRange) {
		t.Errorf("Err() = %v, want ErrAllocation wrapping ErrOutOfRange", it.Err())
	}
}

func TestLoader_SamplerOrder(t *testing.T) {
	opts, _ := testOptions(4)
	opts.Sampler = fixedSampler{3, 2, 1, 0}
	l := newLoader(t, memoryDataset(4, 4, 4, 4), opts)

	records := collect(t, l.Iter(context.Background()))
	var got []int
	for _, r := range records {
		got = append(got, r.Indices...)
	}
	if !reflect.DeepEqual(got, []int{3, 2, 1, 0}) {
		t.Errorf("indices = %v, want sampler order", got)
	}

	stats, ok := l.Stats()
	if !ok || stats.Fingerprint != Fingerprint([]int{3, 2, 1, 0}) {
		t.Errorf("Stats() = %+v, %v", stats, ok)
	}
}

func TestLoader_CollateError(t *testing.T) {
	opts, _ := testOptions(10)
	boom := errors.New("boom")
	l, err := New(memoryDataset(5, 5, 5, 5), func([]model.Features) (int, error) {
		return 0, boom
	}, opts)
	if err != nil {
		t.Fatal(err)
	}

	it := l.Iter(context.Background())
	if it.Next() {
		t.Fatal("expected Next to fail")
	}
	if !errors.Is(it.Err(), boom) {
		t.Errorf("Err() = %v, want %v", it.Err(), boom)
	}
	assertJoined(t, it)
}

func TestLoader_RoundBudget(t *testing.T) {
	lengths := make([]int, 20)
	for i := range lengths {
		lengths[i] = 10
	}
	opts, _ := testOptions(10)
	opts.TotalTokens = 0
	l := newLoader(t, memoryDataset(lengths...), opts)

	// floor(0.99 * 200 / 10) - 1
	if l.Len() != 18 {
		t.Fatalf("Len() = %d, want 18", l.Len())
	}

	it := l.Iter(context.Background())
	records := collect(t, it)
	if len(records) != 18 {
		t.Errorf("expected 18 batches, got %d", len(records))
	}
	if it.Err() != nil {
		t.Errorf("Err() = %v", it.Err())
	}
	assertJoined(t, it)
}

func TestLoader_LenFloorsAtOne(t *testing.T) {
	opts, _ := testOptions(10)
	opts.TotalTokens = 0
	l := newLoader(t, memoryDataset(1), opts)
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestIterator_CloseEarly(t *testing.T) {
	lengths := make([]int, 1000)
	for i := range lengths {
		lengths[i] = 8
	}
	opts, _ := testOptions(8)
	opts.QueueDepth = 1
	l := newLoader(t, memoryDataset(lengths...), opts)

	it := l.Iter(context.Background())
	if !it.Next() {
		t.Fatalf("expected a batch, err=%v", it.Err())
	}
	if err := it.Close(); err != nil {
		t.Fatal(err)
	}
	assertJoined(t, it)

	if it.Next() {
		t.Error("Next after Close should return false")
	}
	if err := it.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestIterator_ContextCancelled(t *testing.T) {
	lengths := make([]int, 1000)
	for i := range lengths {
		lengths[i] = 8
	}
	opts, _ := testOptions(8)
	opts.QueueDepth = 1
	l := newLoader(t, memoryDataset(lengths...), opts)

	ctx, cancel := context.WithCancel(context.Background())
	it := l.Iter(ctx)
	cancel()

	for it.Next() {
	}
	if !errors.Is(it.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", it.Err())
	}
	assertJoined(t, it)
}

func TestIterator_AdvancesSamplerEpoch(t *testing.T) {
	opts, _ := testOptions(10)
	sampler := dataset.NewRandom(4, 1)
	opts.Sampler = sampler
	l := newLoader(t, memoryDataset(5, 5, 5, 5), opts)

	collect(t, l.Iter(context.Background()))
	if sampler.Epoch() != 1 {
		t.Errorf("Epoch() = %d after first pass, want 1", sampler.Epoch())
	}
	collect(t, l.Iter(context.Background()))
	if sampler.Epoch() != 2 {
		t.Errorf("Epoch() = %d after second pass, want 2", sampler.Epoch())
	}
}

func TestLoader_LenWithStats(t *testing.T) {
	opts, _ := testOptions(10)
	l := newLoader(t, memoryDataset(5, 5, 5, 3), opts)

	if _, err := l.Efficiency(); !errors.Is(err, ErrNoStatistics) {
		t.Fatalf("Efficiency() before any pass = %v, want ErrNoStatistics", err)
	}

	n, err := l.LenWithStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != l.Len() {
		t.Errorf("LenWithStats() = %d, Len() = %d", n, l.Len())
	}

	eff, err := l.Efficiency()
	if err != nil {
		t.Fatal(err)
	}
	// rounds: [5,5] then [5,3] -> 18 of 20 slots
	if eff != 0.9 {
		t.Errorf("Efficiency() = %v, want 0.9", eff)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero seq max length", func(o *Options) { o.SeqMaxLength = 0 }},
		{"zero multiplier", func(o *Options) { o.SeqLenMultiplier = 0 }},
		{"batch smaller than multiplier", func(o *Options) { o.SeqLenMultiplier = 2; o.BatchSize = 1 }},
		{"batch not a multiple", func(o *Options) { o.SeqLenMultiplier = 2; o.BatchSize = 3 }},
		{"negative efficiency", func(o *Options) { o.EfficiencyEstimate = -0.5 }},
		{"rank out of range", func(o *Options) { o.Replicas = 2; o.Rank = 2 }},
		{"negative queue depth", func(o *Options) { o.QueueDepth = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, _ := testOptions(10)
			tt.mutate(&opts)
			_, err := New(memoryDataset(5), Identity, opts)
			if !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("New() error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestNew_RejectsOversizeSample(t *testing.T) {
	opts, _ := testOptions(10)
	_, err := New(memoryDataset(5, 11), Identity, opts)
	if !errors.Is(err, ErrInvalidOptions) || !errors.Is(err, packing.ErrItemTooLarge) {
		t.Errorf("New() error = %v, want ErrInvalidOptions wrapping ErrItemTooLarge", err)
	}
}

func TestNew_RequiresDatasetAndCollate(t *testing.T) {
	opts, _ := testOptions(10)
	if _, err := New[[]model.Features](nil, Identity, opts); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("nil dataset: %v", err)
	}
	if _, err := New[int](memoryDataset(1), nil, opts); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("nil collate: %v", err)
	}
}

type countingObserver struct {
	mu         sync.Mutex
	rounds     int
	batches    int
	tokens     int
	terminated int
	lastErr    error
}

func (o *countingObserver) RoundAllocated(int, model.Round, int) {
	o.mu.Lock()
	o.rounds++
	o.mu.Unlock()
}

func (o *countingObserver) BatchAssembled(tokens int, _ time.Duration) {
	o.mu.Lock()
	o.batches++
	o.tokens += tokens
	o.mu.Unlock()
}

func (o *countingObserver) QueueDepth(int) {}

func (o *countingObserver) Terminated(err error) {
	o.mu.Lock()
	o.terminated++
	o.lastErr = err
	o.mu.Unlock()
}

func TestLoader_Observer(t *testing.T) {
	obs := &countingObserver{}
	opts, _ := testOptions(10)
	opts.Observer = obs
	l := newLoader(t, memoryDataset(5, 5, 5, 5), opts)

	collect(t, l.Iter(context.Background()))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.rounds != 2 || obs.batches != 2 || obs.tokens != 20 {
		t.Errorf("observer saw rounds=%d batches=%d tokens=%d", obs.rounds, obs.batches, obs.tokens)
	}
	if obs.terminated != 1 || obs.lastErr != nil {
		t.Errorf("terminated=%d err=%v", obs.terminated, obs.lastErr)
	}
}

func TestLoader_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	opts, _ := testOptions(10)
	opts.Tracer = tp.Tracer("test")
	l := newLoader(t, memoryDataset(5, 5, 5, 5), opts)

	collect(t, l.Iter(context.Background()))

	counts := make(map[string]int)
	for _, s := range sr.Ended() {
		counts[s.Name()]++
	}
	if counts["generate_batches"] != 1 {
		t.Errorf("generate_batches spans = %d, want 1", counts["generate_batches"])
	}
	// two emitted rounds plus the call that found no more input
	if counts["allocate_round"] != 3 {
		t.Errorf("allocate_round spans = %d, want 3", counts["allocate_round"])
	}
	if counts["assemble_batch"] != 2 {
		t.Errorf("assemble_batch spans = %d, want 2", counts["assemble_batch"])
	}
}

func TestLoader_LenWithinRoundsPerRank(t *testing.T) {
	lengths := make([]int, 20)
	for i := range lengths {
		lengths[i] = 10
	}

	for rank := 0; rank < 2; rank++ {
		opts, _ := testOptions(10)
		opts.TotalTokens = 0
		opts.DeviceCount = 0
		opts.Replicas = 2
		opts.Rank = rank
		l := newLoader(t, memoryDataset(lengths...), opts)

		if got := l.Options().DeviceCount; got != 2 {
			t.Errorf("rank %d: DeviceCount = %d, want it raised to the replica count", rank, got)
		}
		if _, err := l.LenWithStats(context.Background()); err != nil {
			t.Fatalf("rank %d: LenWithStats() error: %v", rank, err)
		}
		stats, _ := l.Stats()

		// 10 rounds of two single-sample bins, Len = floor(0.99*100/10) - 1
		if stats.Rounds != 10 {
			t.Fatalf("rank %d: allocator emitted %d rounds, want 10", rank, stats.Rounds)
		}
		if l.Len() != 8 || l.Len() > stats.Rounds {
			t.Errorf("rank %d: Len() = %d, want 8 and no more than %d rounds", rank, l.Len(), stats.Rounds)
		}

		it := l.Iter(context.Background())
		if records := collect(t, it); len(records) != l.Len() {
			t.Errorf("rank %d: got %d batches, want Len() = %d", rank, len(records), l.Len())
		}
		if err := it.Err(); err != nil {
			t.Errorf("rank %d: Err() = %v", rank, err)
		}
	}
}

// failingAtPacker panics on its nth Pack call.
type failingAtPacker struct {
	packing.FirstFitDecreasing
	n     int32
	calls *atomic.Int32
}

func (p failingAtPacker) Pack(sizes []int, c, base int) packing.PackResult {
	if p.calls.Add(1) == p.n {
		panic("bin table corrupted")
	}
	return p.FirstFitDecreasing.Pack(sizes, c, base)
}

func TestLoader_AllocationFaultMidEpoch(t *testing.T) {
	opts, _ := testOptions(10)
	opts.Packer = failingAtPacker{n: 4, calls: new(atomic.Int32)}
	l := newLoader(t, memoryDataset(5, 5, 5, 5, 5, 5, 5, 5, 5, 5), opts)

	it := l.Iter(context.Background())
	var records []model.PackedBatch
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("panic reached the consumer: %v", r)
			}
		}()
		records = collect(t, it)
	}()

	if len(records) != 3 {
		t.Fatalf("expected the 3 rounds queued before the fault, got %d", len(records))
	}
	for i, r := range records {
		if r.Round != i+1 || r.Tokens != 10 {
			t.Errorf("batch %d = round %d with %d tokens", i, r.Round, r.Tokens)
		}
	}
	if it.Next() {
		t.Error("Next after the fault should keep returning false")
	}
	if !errors.Is(it.Err(), ErrAllocation) {
		t.Errorf("Err() = %v, want ErrAllocation", it.Err())
	}
	assertJoined(t, it)
}

func TestIterator_CloseRecordsCancellation(t *testing.T) {
	lengths := make([]int, 100)
	for i := range lengths {
		lengths[i] = 8
	}
	obs := &countingObserver{}
	opts, _ := testOptions(8)
	opts.QueueDepth = 1
	opts.Observer = obs
	l := newLoader(t, memoryDataset(lengths...), opts)

	it := l.Iter(context.Background())
	if !it.Next() {
		t.Fatalf("expected a batch, err=%v", it.Err())
	}
	_ = it.Close()
	_ = it.Close()

	if it.Err() != nil {
		t.Errorf("closing early is not an iteration error, got %v", it.Err())
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.terminated != 1 {
		t.Fatalf("terminated = %d, want 1", obs.terminated)
	}
	if !errors.Is(obs.lastErr, context.Canceled) {
		t.Errorf("termination recorded as %v, want context.Canceled", obs.lastErr)
	}
}

func TestLoader_LenWithStatsRecoversPanic(t *testing.T) {
	opts, _ := testOptions(10)
	opts.Packer = panickingPacker{}
	l := newLoader(t, memoryDataset(5, 5), opts)

	_, err := l.LenWithStats(context.Background())
	if !errors.Is(err, ErrAllocation) {
		t.Errorf("LenWithStats() = %v, want ErrAllocation", err)
	}
}
