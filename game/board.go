package game

import "bytes"

// Board is an opaque position. Each Rules implementation decides what the
// cells mean; the core only copies, compares, hashes and serializes it.
type Board []int8

// Clone returns a deep copy.
func (b Board) Clone() Board {
	if b == nil {
		return nil
	}
	c := make(Board, len(b))
	copy(c, b)
	return c
}

// Equal reports whether both boards hold the same cells.
func (b Board) Equal(o Board) bool {
	return bytes.Equal(b.Bytes(), o.Bytes())
}

// Bytes returns a stable byte view of the board, suitable for hashing and
// for the wire codec.
func (b Board) Bytes() []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = byte(c)
	}
	return out
}

// BoardFromBytes is the inverse of Bytes.
func BoardFromBytes(bts []byte) Board {
	b := make(Board, len(bts))
	for i, c := range bts {
		b[i] = int8(c)
	}
	return b
}
