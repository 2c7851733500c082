package packing

import (
	"math/rand"
	"reflect"
	"testing"
)

// helper to generate pseudo-random sequence lengths
func randomLengths(rng *rand.Rand, count, maxLen int) []int {
	out := make([]int, count)
	for i := range out {
		out[i] = 1 + rng.Intn(maxLen)
	}
	return out
}

func sum(sizes []int) int {
	total := 0
	for _, s := range sizes {
		total += s
	}
	return total
}

func TestFFDFits_Cases(t *testing.T) {
	ffd := FirstFitDecreasing{}

	tests := []struct {
		name  string
		sizes []int
		n     int
		c     int
		want  bool
	}{
		{"empty input", nil, 1, 10, true},
		{"single exact", []int{10}, 1, 10, true},
		{"single too large", []int{11}, 1, 10, false},
		{"tight bound fits", []int{5, 5, 5, 5}, 2, 10, true},
		{"tight bound fragmented", []int{6, 6, 4, 4}, 2, 10, true},
		{"sum exceeds", []int{5, 5, 5, 5, 1}, 2, 10, false},
		{"sum fits but shape does not", []int{6, 6, 6}, 2, 10, false},
		{"pairs of nine and one", []int{9, 1, 9, 1}, 2, 10, true},
		{"zero bins", []int{1}, 0, 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ffd.Fits(tt.sizes, tt.n, tt.c); got != tt.want {
				t.Errorf("Fits(%v, %d, %d) = %v, want %v", tt.sizes, tt.n, tt.c, got, tt.want)
			}
		})
	}
}

func TestFFDFits_NecessaryCondition(t *testing.T) {
	ffd := FirstFitDecreasing{}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		sizes := randomLengths(rng, 1+rng.Intn(20), 50)
		n := 1 + rng.Intn(4)
		c := 20 + rng.Intn(80)

		if ffd.Fits(sizes, n, c) && sum(sizes) > n*c {
			t.Fatalf("Fits accepted %v into %d bins of %d with sum %d", sizes, n, c, sum(sizes))
		}
	}
}

func TestFFDFits_DoesNotMutateInput(t *testing.T) {
	sizes := []int{1, 9, 3, 7}
	orig := append([]int(nil), sizes...)

	FirstFitDecreasing{}.Fits(sizes, 2, 10)
	FirstFitDecreasing{}.Pack(sizes, 10, 0)

	if !reflect.DeepEqual(sizes, orig) {
		t.Errorf("input mutated: got %v, want %v", sizes, orig)
	}
}

func TestFFDPack_PartitionAndCapacity(t *testing.T) {
	ffd := FirstFitDecreasing{}
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 200; i++ {
		sizes := randomLengths(rng, 1+rng.Intn(40), 64)
		const c = 64
		base := rng.Intn(1000)

		res := ffd.Pack(sizes, c, base)
		if res.Items != len(sizes) {
			t.Fatalf("Items = %d, want %d", res.Items, len(sizes))
		}

		seen := make(map[int]bool)
		for b, bin := range res.Bins {
			total := 0
			for _, idx := range bin {
				if seen[idx] {
					t.Fatalf("index %d assigned to more than one bin", idx)
				}
				seen[idx] = true
				total += sizes[idx-base]
			}
			if total > c {
				t.Fatalf("bin %d holds %d tokens, capacity %d", b, total, c)
			}
			if total != res.Tokens[b] {
				t.Fatalf("bin %d token sum %d, reported %d", b, total, res.Tokens[b])
			}
		}
		if len(seen) != len(sizes) {
			t.Fatalf("assigned %d indices, want %d", len(seen), len(sizes))
		}
	}
}

func TestFFDPack_AgreesWithFits(t *testing.T) {
	ffd := FirstFitDecreasing{}
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 300; i++ {
		sizes := randomLengths(rng, 1+rng.Intn(15), 30)
		n := 1 + rng.Intn(3)
		const c = 40

		res := ffd.Pack(sizes, c, 0)
		if got, want := ffd.Fits(sizes, n, c), len(res.Bins) <= n; got != want {
			t.Fatalf("Fits=%v but Pack used %d bins for n=%d (sizes %v)", got, len(res.Bins), n, sizes)
		}
	}
}

func TestFFDPack_StableTies(t *testing.T) {
	res := FirstFitDecreasing{}.Pack([]int{2, 5, 2, 5}, 20, 0)
	if len(res.Bins) != 1 {
		t.Fatalf("expected 1 bin, got %d", len(res.Bins))
	}
	want := []int{1, 3, 0, 2}
	if !reflect.DeepEqual(res.Bins[0], want) {
		t.Errorf("placement order = %v, want %v", res.Bins[0], want)
	}
}

func TestFFDPack_OpensBinsLazily(t *testing.T) {
	res := FirstFitDecreasing{}.Pack([]int{6, 6, 6}, 10, 100)
	if len(res.Bins) != 3 {
		t.Fatalf("expected 3 bins, got %d", len(res.Bins))
	}
	for i, bin := range res.Bins {
		if !reflect.DeepEqual(bin, []int{100 + i}) {
			t.Errorf("bin %d = %v, want [%d]", i, bin, 100+i)
		}
	}
}

func TestFFD_Name(t *testing.T) {
	if got := (FirstFitDecreasing{}).Name(); got != "first-fit-decreasing" {
		t.Errorf("Name() = %q", got)
	}
}
