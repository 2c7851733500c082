package dataloader

import "github.com/guimove/seqpack/internal/model"

// PackFeatures concatenates the members of one bin into a single record.
// Each feature is concatenated in member order; a member lacking a feature
// contributes nothing to it, and a feature no member has is omitted.
//
// The mask feature is rewritten into segment ids: member i's values are
// multiplied by offset+i+1, so padding zeros stay zero and every packed
// sequence gets a distinct id that keeps growing across rounds.
func PackFeatures(members []model.Features, features []string, maskFeature string, offset int64) model.Features {
	packed := make(model.Features, len(features))
	for _, name := range features {
		size := 0
		present := false
		for _, m := range members {
			if vals, ok := m[name]; ok {
				size += len(vals)
				present = true
			}
		}
		if !present {
			continue
		}

		out := make([]int64, 0, size)
		for i, m := range members {
			vals, ok := m[name]
			if !ok {
				continue
			}
			if name != maskFeature {
				out = append(out, vals...)
				continue
			}
			segment := offset + int64(i) + 1
			for _, v := range vals {
				out = append(out, segment*v)
			}
		}
		packed[name] = out
	}
	return packed
}
