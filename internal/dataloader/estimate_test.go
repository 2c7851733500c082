package dataloader

import (
	"math"
	"testing"
)

func TestEstimateRounds(t *testing.T) {
	tests := []struct {
		name       string
		total      int64
		devices    int
		efficiency float64
		seqMax     int
		batchSize  int
		want       int
	}{
		{"single device", 100000, 1, 1.0, 2048, 1, 47},
		{"two devices", 100000, 2, 1.0, 2048, 1, 23},
		{"lower efficiency", 100000, 1, 0.5, 2048, 1, 95},
		{"batch size", 100000, 1, 1.0, 2048, 2, 23},
		{"tiny dataset", 10, 1, 1.0, 2048, 1, -1},
		{"zero devices treated as one", 100000, 0, 1.0, 2048, 1, 47},
		{"saturates at max int", 1 << 40, 1, 1e-300, 1, 1, math.MaxInt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateRounds(tt.total, tt.devices, tt.efficiency, tt.seqMax, tt.batchSize)
			if got != tt.want {
				t.Errorf("EstimateRounds() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEstimateRounds_Monotonic(t *testing.T) {
	prev := EstimateRounds(1_000_000, 1, 0.1, 512, 1)
	for eff := 0.2; eff <= 1.0; eff += 0.1 {
		got := EstimateRounds(1_000_000, 1, eff, 512, 1)
		if got > prev {
			t.Fatalf("estimate grew from %d to %d as efficiency rose to %.1f", prev, got, eff)
		}
		prev = got
	}

	prev = EstimateRounds(0, 1, 1.0, 512, 1)
	for total := int64(10_000); total <= 1_000_000; total += 10_000 {
		got := EstimateRounds(total, 1, 1.0, 512, 1)
		if got < prev {
			t.Fatalf("estimate shrank from %d to %d as tokens rose to %d", prev, got, total)
		}
		prev = got
	}
}
