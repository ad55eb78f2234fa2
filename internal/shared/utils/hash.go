package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
	XXH64  HashAlgorithm = "xxh64"
)

// Hasher provides pluggable content hashing
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a new hasher with the specified algorithm
func NewHasher(algorithm HashAlgorithm) *Hasher {
	return &Hasher{
		algorithm: algorithm,
	}
}

// DefaultHasher returns the hasher used for frame fingerprints
func DefaultHasher() *Hasher {
	return NewHasher(XXH64)
}

// Hash computes a hash of the input data
func (h *Hasher) Hash(data []byte) string {
	switch h.algorithm {
	case XXH64:
		return strconv.FormatUint(xxhash.Sum64(data), 16)
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

// HashString computes a hash of a string
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// ChangeDetector remembers the fingerprint of the last payload it saw.
// Not safe for concurrent use; each capture streamer owns one.
type ChangeDetector struct {
	hasher *Hasher
	last   string
}

// NewChangeDetector creates a detector; a nil hasher selects the default
func NewChangeDetector(hasher *Hasher) *ChangeDetector {
	if hasher == nil {
		hasher = DefaultHasher()
	}
	return &ChangeDetector{hasher: hasher}
}

// Changed reports whether data differs from the previous call's data
func (d *ChangeDetector) Changed(data []byte) bool {
	sum := d.hasher.Hash(data)
	if sum == d.last {
		return false
	}
	d.last = sum
	return true
}

// Reset forgets the last fingerprint
func (d *ChangeDetector) Reset() {
	d.last = ""
}
