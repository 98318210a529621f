// Package hash derives the hex fingerprints providers and stages use to
// tell resource versions apart.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex sha256 of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fields hashes the fields NUL-separated, so ("ab", "c") and ("a", "bc")
// differ.
func Fields(fields ...string) string {
	h := sha256.New()
	for i, f := range fields {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
