// Package arena implements a growable, append-only byte store. Bytes in
// [0, used) never move except when the backing slice is reallocated by
// growth, which is why offsets — not pointers — are the unit of reference
// during a build.
package arena

import (
	"encoding/binary"
	"fmt"
)

// Offset identifies a byte position recorded during a build. It is only
// safe to resolve once the arena has settled (no further growth will
// occur for this snapshot).
type Offset uint64

// Arena is an owned byte buffer with capacity C and used-count U <= C.
// It is single-writer (the table loader, while a slot is idle) and,
// once the slot is published, single-reader.
type Arena struct {
	buf  []byte
	used int
}

// Build allocates a new arena with the given initial capacity. initial
// is raised to at least 16 bytes so early doublings don't thrash.
func Build(initial int) *Arena {
	if initial < 16 {
		initial = 16
	}
	return &Arena{buf: make([]byte, initial)}
}

// Used returns the number of bytes written so far.
func (a *Arena) Used() int { return a.used }

// Capacity returns the current backing capacity.
func (a *Arena) Capacity() int { return len(a.buf) }

// Store appends b and returns the offset where it begins. The arena
// grows by doubling if the current capacity can't hold the new bytes.
func (a *Arena) Store(b []byte) Offset {
	a.growFor(len(b))
	off := a.used
	copy(a.buf[off:], b)
	a.used += len(b)
	return Offset(off)
}

// StoreFramed writes len_be(4) || b as a single contiguous unit and
// returns the offset of the length header. FrameLen for the written
// frame is 4 + len(b).
func (a *Arena) StoreFramed(b []byte) Offset {
	total := 4 + len(b)
	a.growFor(total)
	off := a.used
	binary.BigEndian.PutUint32(a.buf[off:off+4], uint32(len(b)))
	copy(a.buf[off+4:], b)
	a.used += total
	return Offset(off)
}

// growFor ensures capacity for n more bytes past used, doubling until
// it fits.
func (a *Arena) growFor(n int) {
	need := a.used + n
	if need <= len(a.buf) {
		return
	}
	newCap := len(a.buf)
	if newCap == 0 {
		newCap = 16
	}
	for newCap < need {
		newCap *= 2
	}
	grown := make([]byte, newCap)
	copy(grown, a.buf[:a.used])
	a.buf = grown
}

// Resolve converts an offset into a byte slice view of the stored data,
// valid only after the last growth for this snapshot. n is the number
// of bytes to return starting at off.
func (a *Arena) Resolve(off Offset, n int) []byte {
	o := int(off)
	if o < 0 || o+n > len(a.buf) {
		panic(fmt.Sprintf("arena: resolve out of range: off=%d n=%d cap=%d", off, n, len(a.buf)))
	}
	return a.buf[o : o+n]
}

// ResolveFrame returns the payload bytes of a frame previously written
// by StoreFramed, given the offset of its length header.
func (a *Arena) ResolveFrame(off Offset) []byte {
	header := a.Resolve(off, 4)
	payloadLen := binary.BigEndian.Uint32(header)
	return a.Resolve(off+4, int(payloadLen))
}

// ResolveFull returns the full frame bytes (header + payload) for an
// offset previously written by StoreFramed, given the total frame
// length (frameLen = 4 + payload_len).
func (a *Arena) ResolveFull(off Offset, frameLen int) []byte {
	return a.Resolve(off, frameLen)
}

// Reset sets used back to zero; capacity is retained so the next
// reload of this slot reuses the backing storage when possible.
func (a *Arena) Reset() {
	a.used = 0
}
