package dataloader

import "math"

// EstimateRounds predicts how many batches each device will see in an epoch.
// It shaves 1% plus one round off the ideal count so that devices whose
// samplers pack slightly worse still reach the same step count. The result
// may be zero or negative for tiny datasets; callers clamp it. A count too
// large for an int saturates at math.MaxInt.
func EstimateRounds(totalTokens int64, deviceCount int, efficiency float64, seqMaxLength, batchSize int) int {
	if deviceCount <= 0 {
		deviceCount = 1
	}
	if efficiency <= 0 {
		efficiency = 1.0
	}
	perDevice := totalTokens / int64(deviceCount)
	rounds := math.Floor(0.99 * float64(perDevice) / efficiency / float64(seqMaxLength) / float64(batchSize))
	if rounds >= math.MaxInt {
		return math.MaxInt
	}
	return int(rounds) - 1
}
