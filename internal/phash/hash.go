// Package phash computes the exact digest and the perceptual signature of a
// receipt, and compares signatures by mean bit agreement.
package phash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/bits"
)

// Hash is a fixed-width bit string, most significant bit first
type Hash []byte

// newHash allocates a zeroed hash of n bits
func newHash(n int) Hash {
	return make(Hash, (n+7)/8)
}

func (h Hash) set(i int) {
	h[i/8] |= 1 << (7 - uint(i%8))
}

// Bit reports whether bit i is set
func (h Hash) Bit(i int) bool {
	return h[i/8]&(1<<(7-uint(i%8))) != 0
}

// Width returns the number of bits in the hash
func (h Hash) Width() int {
	return len(h) * 8
}

// String returns the hex encoding of the hash
func (h Hash) String() string {
	return hex.EncodeToString(h)
}

// ParseHash decodes a hex-encoded hash
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("parse hash: %w", err)
	}
	return Hash(b), nil
}

// Hamming returns the number of differing bits. Hashes of different widths
// are compared over the shorter one and every extra bit counts as different.
func Hamming(a, b Hash) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	d := 0
	for i := 0; i < n; i++ {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	extra := len(a) - len(b)
	if extra < 0 {
		extra = -extra
	}
	return d + extra*8
}

// Agreement returns the fraction of matching bits in [0,1]
func Agreement(a, b Hash) float64 {
	width := a.Width()
	if b.Width() > width {
		width = b.Width()
	}
	if width == 0 {
		return 0
	}
	return 1 - float64(Hamming(a, b))/float64(width)
}

// Digest returns the hex SHA-256 of the raw bytes
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
