package packing

import "errors"

var (
	ErrItemTooLarge    = errors.New("sample length exceeds bin capacity")
	ErrInvalidGeometry = errors.New("bin count and capacity must be positive")
)

// BinPacker defines a strategy for placing sequence lengths into fixed-capacity bins.
type BinPacker interface {
	// Fits reports whether all sizes can be placed into n bins of capacity c.
	Fits(sizes []int, n, c int) bool

	// Pack places all sizes into as many bins of capacity c as needed. Item
	// indices in the result are offset by base.
	Pack(sizes []int, c, base int) PackResult

	// Name returns the strategy name.
	Name() string
}

// PackResult is the output of a packing run.
type PackResult struct {
	// Bins holds, per bin, the base-offset indices of the items placed there,
	// in placement order.
	Bins [][]int

	// Tokens holds the size sum of each bin.
	Tokens []int

	// Items is the number of items processed.
	Items int
}
