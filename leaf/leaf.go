// Package leaf implements Data, the immutable byte-blob leaf that sits at
// the bottom of every ContentTree (see package merkletree). A Data value
// is owned by exactly one tree position at a time; it is moved, not
// shared mutably, matching the "take and reinstall" pattern used
// throughout this module (see package datastore).
package leaf

import (
	"golang.org/x/crypto/sha3"
)

// MaxSize is the largest number of bytes a single Data leaf may hold.
const MaxSize = 1024

// Hash64 folds a Keccak-256 digest down to the 64-bit hash space used
// throughout the wire protocol (content hashes, guard hashes, page
// hashes are all uint64). Folding takes the first 8 bytes of the digest,
// big-endian -- the same truncation the teacher's das package uses when
// deriving a pseudo-random uint64 from a Keccak digest.
func Hash64(b []byte) uint64 {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	digest := h.Sum(nil)
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(digest[i])
	}
	return v
}

// Data is an immutable byte sequence of length 0-MaxSize with a
// memoised 64-bit hash.
type Data struct {
	bytes []byte
	hash  uint64
}

// ErrTooLarge is returned by New when the supplied bytes exceed MaxSize.
type ErrTooLarge struct {
	Len int
}

func (e *ErrTooLarge) Error() string {
	return "leaf: data exceeds 1024 bytes"
}

// New constructs a Data leaf from b, copying it and computing its hash
// eagerly. It fails if len(b) > MaxSize.
func New(b []byte) (Data, error) {
	if len(b) > MaxSize {
		return Data{}, &ErrTooLarge{Len: len(b)}
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return Data{bytes: cp, hash: Hash64(cp)}, nil
}

// Empty returns a zero-byte Data leaf carrying an externally supplied
// hash. This is used as a placeholder for bytes that have not arrived
// yet (a ContentTree/Datastore "shell").
func Empty(hash uint64) Data {
	return Data{hash: hash}
}

// Bytes consumes the Data leaf, returning its underlying bytes without a
// defensive copy. Callers that need to retain the Data afterwards should
// use RefBytes instead.
func (d Data) Bytes() []byte {
	return d.bytes
}

// RefBytes returns the leaf's bytes without transferring ownership.
// Callers must not mutate the returned slice.
func (d Data) RefBytes() []byte {
	return d.bytes
}

// Len returns the number of bytes held by the leaf.
func (d Data) Len() int {
	return len(d.bytes)
}

// IsEmpty reports whether the leaf holds zero bytes (a placeholder
// shell, or a genuinely empty Data value).
func (d Data) IsEmpty() bool {
	return len(d.bytes) == 0
}

// Hash returns the leaf's memoised 64-bit hash. For a placeholder
// created via Empty, this is the externally supplied hash; for a leaf
// created via New, it is Hash64(bytes).
func (d Data) Hash() uint64 {
	return d.hash
}

// Equal reports whether two Data leaves hold identical bytes. Equality
// is defined over bytes, not hashes, so two placeholders sharing a hash
// collision (astronomically unlikely) are not considered equal unless
// their bytes also match -- and two placeholders with no bytes and the
// same hash ARE equal, since both have zero-length byte slices.
func (d Data) Equal(o Data) bool {
	if len(d.bytes) != len(o.bytes) {
		return false
	}
	for i := range d.bytes {
		if d.bytes[i] != o.bytes[i] {
			return false
		}
	}
	return true
}
