// Package sha256 provides the normalizing content hasher used for page
// change detection.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements pipeline.Hasher using SHA-256 over normalized text.
type Hasher struct{}

// New returns a SHA-256 content hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash collapses whitespace runs to single spaces, trims the result, and
// returns the hex SHA-256 digest. Identical visible content therefore hashes
// identically regardless of indentation or line breaks.
func (h *Hasher) Hash(text string) (string, error) {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}
