package packing

import (
	"github.com/guimove/seqpack/internal/model"
)

// UnderfillThreshold is the fill ratio below which a bin counts as underfilled.
const UnderfillThreshold = 0.90

// AnalyzeUtilization computes fill metrics for bins given their token sums.
func AnalyzeUtilization(binTokens []int, capacity int) model.UtilizationReport {
	if len(binTokens) == 0 || capacity <= 0 {
		return model.UtilizationReport{}
	}

	report := model.UtilizationReport{
		Bins:    len(binTokens),
		MinFill: 1.0,
	}
	var underfilled int

	for _, tokens := range binTokens {
		fill := float64(tokens) / float64(capacity)
		report.MeanFill += fill
		if fill < report.MinFill {
			report.MinFill = fill
		}
		if fill < UnderfillThreshold {
			underfilled++
		}
		report.WastedTokens += int64(capacity - tokens)
	}

	n := float64(len(binTokens))
	report.MeanFill /= n
	report.UnderfilledBinFraction = float64(underfilled) / n

	return report
}
