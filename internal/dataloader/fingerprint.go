package dataloader

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Fingerprint identifies an epoch order: the hex SHA-256 of its indices
// written as comma-joined decimals.
func Fingerprint(indices []int) string {
	h := sha256.New()
	buf := make([]byte, 0, 20)
	for i, idx := range indices {
		if i > 0 {
			h.Write([]byte{','})
		}
		buf = strconv.AppendInt(buf[:0], int64(idx), 10)
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}
