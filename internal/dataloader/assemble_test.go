package dataloader

import (
	"reflect"
	"testing"

	"github.com/guimove/seqpack/internal/model"
)

func TestPackFeatures(t *testing.T) {
	members := []model.Features{
		{"input_ids": {1, 2, 3}, "attention_mask": {1, 1, 0}, "labels": {7, 8, 9}},
		{"input_ids": {4, 5}, "attention_mask": {1, 1}},
	}
	features := []string{"input_ids", "attention_mask", "labels", "position_ids"}

	got := PackFeatures(members, features, "attention_mask", 4)
	want := model.Features{
		"input_ids":      {1, 2, 3, 4, 5},
		"attention_mask": {5, 5, 0, 6, 6},
		"labels":         {7, 8, 9},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PackFeatures() = %v, want %v", got, want)
	}
}

func TestPackFeatures_DoesNotMutateMembers(t *testing.T) {
	mask := []int64{1, 1}
	members := []model.Features{{"attention_mask": mask}}

	PackFeatures(members, []string{"attention_mask"}, "attention_mask", 9)
	if !reflect.DeepEqual(mask, []int64{1, 1}) {
		t.Errorf("member mask mutated: %v", mask)
	}
}

func TestFingerprint(t *testing.T) {
	if got := Fingerprint([]int{1, 2, 3}); got != "8a6ae15122001229edb8866f56e342af12ae8187203c3e3b33931743e7c0c48d" {
		t.Errorf("Fingerprint([1 2 3]) = %s", got)
	}
	if got := Fingerprint(nil); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("Fingerprint(nil) = %s", got)
	}
	if Fingerprint([]int{1, 2, 3}) == Fingerprint([]int{3, 2, 1}) {
		t.Error("fingerprint should depend on order")
	}
	if Fingerprint([]int{1, 23}) == Fingerprint([]int{12, 3}) {
		t.Error("fingerprint should separate indices")
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name  string
		items []int
		n     int
		want  [][]int
	}{
		{"even", []int{1, 2, 3, 4}, 2, [][]int{{1, 2}, {3, 4}}},
		{"remainder", []int{1, 2, 3}, 2, [][]int{{1, 2}, {3}}},
		{"larger than input", []int{1}, 5, [][]int{{1}}},
		{"empty", nil, 3, [][]int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Chunk(tt.items, tt.n)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Chunk() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := Chunk([]int{1}, 0); err == nil {
		t.Error("expected error for n < 1")
	}
}
