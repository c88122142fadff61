// Package wire defines the fixed binary request header and the
// length-prefixed response framing used by the cache's socket
// protocol. All multi-byte integers are big-endian.
package wire

import "encoding/binary"

// Version is the only request header version this server accepts.
const Version = 0x11

// HeaderLen is the fixed size of a request header in bytes.
const HeaderLen = 8

// Action identifies what a request asks the server to do.
type Action byte

const (
	ActionFetch   Action = 'F'
	ActionSchema  Action = 'D'
	ActionStats   Action = 's'
	ActionQuit    Action = 'q'
)

// Header is a parsed 8-byte request header:
//
//	+--------+--------+----------+----------+------------------+
//	| ver    | action | table_id | index_id | key_len (BE32)   |
//	+--------+--------+----------+----------+------------------+
type Header struct {
	Version  byte
	Action   Action
	TableID  byte
	IndexID  byte
	KeyLen   uint32
}

// Decode parses an 8-byte buffer into a Header. Callers must ensure
// len(b) == HeaderLen.
func Decode(b []byte) Header {
	return Header{
		Version: b[0],
		Action:  Action(b[1]),
		TableID: b[2],
		IndexID: b[3],
		KeyLen:  binary.BigEndian.Uint32(b[4:8]),
	}
}

// Encode writes h into b, which must have length >= HeaderLen.
func Encode(h Header, b []byte) {
	b[0] = h.Version
	b[1] = byte(h.Action)
	b[2] = h.TableID
	b[3] = h.IndexID
	binary.BigEndian.PutUint32(b[4:8], h.KeyLen)
}

// MissResponse is the literal 4 zero bytes the server writes for any
// cache miss, unknown table, bad index, or discarded oversized key.
var MissResponse = [4]byte{0, 0, 0, 0}

// FrameLength writes a 4-byte big-endian length prefix into b (which
// must have length >= 4) for a payload of n bytes.
func FrameLength(n int, b []byte) {
	binary.BigEndian.PutUint32(b, uint32(n))
}

// DecodeFrameLength reads a 4-byte big-endian length prefix.
func DecodeFrameLength(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
