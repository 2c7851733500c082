package model

// Features maps a feature name (input_ids, attention_mask, labels, ...) to its values.
type Features map[string][]int64

// Len returns the number of values stored under the given feature, or 0 if absent.
func (f Features) Len(name string) int {
	return len(f[name])
}

// Has reports whether the feature is present.
func (f Features) Has(name string) bool {
	_, ok := f[name]
	return ok
}

// Clone returns a deep copy of the feature mapping.
func (f Features) Clone() Features {
	out := make(Features, len(f))
	for k, v := range f {
		cp := make([]int64, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Sample is one tokenized training example.
type Sample struct {
	// Position in dataset storage order
	Index int `json:"index"`

	// Token count used for packing
	Length int `json:"length"`

	Features Features `json:"features"`
}
