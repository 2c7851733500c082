package model

// Round is the outcome of one allocation step: one bin per rank, all drawn from
// a contiguous prefix of the remaining epoch order.
type Round struct {
	// 1-based round counter within the epoch
	Number int `json:"number"`

	// Bin assigned to the requesting rank, as epoch-order positions
	Bin []int `json:"bin"`

	// All bins of the round, indexed by rank
	Bins [][]int `json:"bins"`

	// Token sum of each bin, indexed by rank
	BinTokens []int `json:"bin_tokens"`

	// Number of samples placed in this round across all bins
	Items int `json:"items"`

	// Cumulative tokens consumed from the epoch order so far
	UsedTokens int64 `json:"used_tokens"`

	// Cumulative token capacity offered so far (rounds × capacity × bins)
	SlotTokens int64 `json:"slot_tokens"`
}

// Efficiency returns UsedTokens / SlotTokens, or 0 before any capacity was offered.
func (r Round) Efficiency() float64 {
	if r.SlotTokens == 0 {
		return 0
	}
	return float64(r.UsedTokens) / float64(r.SlotTokens)
}

// PackedBatch is the single record built from one bin: every member's features
// concatenated in bin order.
type PackedBatch struct {
	ID       string   `json:"id"`
	Round    int      `json:"round"`
	Indices  []int    `json:"indices"`
	Tokens   int      `json:"tokens"`
	Features Features `json:"features"`
}
