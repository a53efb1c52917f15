// Package sha256 derives fallback item ids for postings whose URL carries
// no numeric identifier.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher hex-encodes the SHA-256 digest of its input.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data. It never fails; the error return lets
// it satisfy interfaces that allow fallible hashers.
func (h *Hasher) Hash(data []byte) (string, error) {
	return h.Sum(string(data)), nil
}

// Sum returns the hex digest of s.
func (*Hasher) Sum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
