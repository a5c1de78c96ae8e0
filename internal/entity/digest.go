package entity

import (
	"crypto/sha256"
	"encoding/binary"
)

// Digest collapses an ordered list of parts into one signature. Each part is
// length-prefixed so that different splits of the same bytes never collide.
func Digest(parts ...[]byte) Signature {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	return h.Sum(nil)
}

// DigestStrings is Digest over string parts.
func DigestStrings(parts ...string) Signature {
	bs := make([][]byte, len(parts))
	for i, p := range parts {
		bs[i] = []byte(p)
	}
	return Digest(bs...)
}
