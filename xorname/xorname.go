// Package xorname implements the 256-bit identifiers used to address
// sections and members of the overlay, and the prefix arithmetic used to
// route by XOR-closeness.
package xorname

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// Len is the length in bytes of a XorName.
const Len = 32

// XorName is a 256-bit identifier. Distance between two names is their
// bitwise XOR, interpreted as an unsigned big-endian integer.
type XorName [Len]byte

// FromContent derives a XorName from arbitrary content, the way chunk and
// member addresses are derived throughout the overlay.
func FromContent(content []byte) XorName {
	return sha256.Sum256(content)
}

func (n XorName) String() string {
	return hex.EncodeToString(n[:])
}

// Equal reports whether n and other are the same identifier.
func (n XorName) Equal(other XorName) bool {
	return n == other
}

// xor returns the bitwise XOR of a and b.
func xor(a, b XorName) XorName {
	var out XorName
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// CloserTo reports whether a is strictly closer to target than b, using XOR
// distance. Ties are broken by the caller (callers needing a deterministic
// tiebreak compare a and b lexicographically themselves).
func CloserTo(target, a, b XorName) bool {
	da, db := xor(target, a), xor(target, b)
	return bytes.Compare(da[:], db[:]) < 0
}

// Less provides a total, deterministic order over names, used as the
// tiebreak when two names are equidistant from a target.
func Less(a, b XorName) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// bitAt returns the bit at index i (0 = most significant bit of byte 0).
func bitAt(n XorName, i uint) uint8 {
	return (n[i/8] >> (7 - i%8)) & 1
}
