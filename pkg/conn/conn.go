// Package conn implements the per-connection request framing state
// machine and its scatter/gather response writer. One Conn is bound to
// each accepted socket; connections are reused via a free list to
// avoid per-accept allocation under high churn.
package conn

import (
	"fmt"

	"github.com/cachegrid/rowcache/pkg/wire"
	"golang.org/x/sys/unix"
)

// MaxKeyLen bounds key_len before the server switches into discard
// mode for the request.
const MaxKeyLen = 65536

const scratchSize = 4096

type parseState int

const (
	stateAwaitingHeader parseState = iota
	stateAwaitingKey
)

// Dispatcher turns a fully parsed request into a response. It is
// implemented by pkg/dispatch and injected so this package never
// imports the table registry directly.
type Dispatcher interface {
	Dispatch(h wire.Header, key []byte, discarding bool) Response
}

// Response is the dispatcher's answer: one or two byte segments that
// together form a complete, already-framed wire response.
type Response struct {
	Segments [][]byte
}

// Conn is one client connection's parse and write state.
type Conn struct {
	fd         int
	dispatcher Dispatcher

	parseState parseState
	header     [wire.HeaderLen]byte
	headerHave int

	keyBuf     []byte
	keyHave    int
	keyLen     uint32
	discarding bool

	scratch [scratchSize]byte

	outIovec [][]byte
	outIdx   int
	outOff   int

	closed bool
}

// New returns a fresh Conn bound to fd (FreeList.Get reuses pooled
// ones instead). fd must already be set
// non-blocking by the caller (and TCP_NODELAY for AF_INET sockets).
func New(fd int, dispatcher Dispatcher) *Conn {
	return &Conn{fd: fd, dispatcher: dispatcher}
}

// Reset clears all parse and write state so the struct can be reused
// for a new accept via a free list, and rebinds it to fd and
// dispatcher.
func (c *Conn) Reset(fd int, dispatcher Dispatcher) {
	c.fd = fd
	c.dispatcher = dispatcher
	c.parseState = stateAwaitingHeader
	c.headerHave = 0
	c.keyBuf = c.keyBuf[:0]
	c.keyHave = 0
	c.keyLen = 0
	c.discarding = false
	c.outIovec = nil
	c.outIdx = 0
	c.outOff = 0
	c.closed = false
}

// FD returns the bound file descriptor.
func (c *Conn) FD() int { return c.fd }

// HasPendingWrite reports whether a response is still draining.
func (c *Conn) HasPendingWrite() bool {
	return c.outIdx < len(c.outIovec)
}

// OnReadable is called by the event loop when fd is read-ready. It
// drains the socket into a scratch buffer and advances the parse state
// machine, dispatching and queuing responses for every request that
// completes. ok is false if the connection should be recycled (EOF or
// fatal error).
func (c *Conn) OnReadable() (ok bool) {
	for {
		n, err := unix.Read(c.fd, c.scratch[:])
		if n > 0 {
			if !c.consume(c.scratch[:n]) {
				return false
			}
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return true
			}
			return false
		}
		if n == 0 {
			return false
		}
		if n < scratchSize {
			// Likely drained the socket; avoid a pointless extra syscall.
			return true
		}
	}
}

// consume advances the parse state machine across buf, dispatching
// every request that completes within it. Returns false on protocol
// violation (bad version).
func (c *Conn) consume(buf []byte) bool {
	for len(buf) > 0 {
		switch c.parseState {
		case stateAwaitingHeader:
			n := copy(c.header[c.headerHave:], buf)
			c.headerHave += n
			buf = buf[n:]
			if c.headerHave < wire.HeaderLen {
				return true
			}
			h := wire.Decode(c.header[:])
			if h.Version != wire.Version {
				return false
			}
			c.keyLen = h.KeyLen
			c.discarding = h.KeyLen > MaxKeyLen
			if !c.discarding {
				if cap(c.keyBuf) < int(h.KeyLen) {
					c.keyBuf = make([]byte, h.KeyLen)
				} else {
					c.keyBuf = c.keyBuf[:h.KeyLen]
				}
			}
			c.keyHave = 0
			c.parseState = stateAwaitingKey

		case stateAwaitingKey:
			remaining := int(c.keyLen) - c.keyHave
			take := remaining
			if take > len(buf) {
				take = len(buf)
			}
			if !c.discarding {
				copy(c.keyBuf[c.keyHave:], buf[:take])
			}
			c.keyHave += take
			buf = buf[take:]

			if c.keyHave < int(c.keyLen) {
				return true
			}

			h := wire.Decode(c.header[:])
			var key []byte
			if !c.discarding {
				key = c.keyBuf[:c.keyLen]
			}
			resp := c.dispatcher.Dispatch(h, key, c.discarding)
			c.queueResponse(resp)

			c.headerHave = 0
			c.parseState = stateAwaitingHeader
		}
	}
	return true
}

// queueResponse appends resp's segments to the outbound iovec without
// copying them. A fetch hit's segment points straight into the arena of
// the snapshot that was current when it was dispatched. That slot is
// reset only by the reload after the one that replaced it, so the
// response must drain within about one refresh period; a client slower
// than that can receive bytes from the rebuilt slot. No in-use count
// delays the reset.
func (c *Conn) queueResponse(resp Response) {
	c.outIovec = append(c.outIovec, resp.Segments...)
}

// Flush writes as much of the pending response as the socket accepts
// using scatter/gather I/O. done is true once every queued segment has
// been fully written.
func (c *Conn) Flush() (done bool, err error) {
	for c.outIdx < len(c.outIovec) {
		bufs := c.remainingIovecs()
		n, werr := unix.Writev(c.fd, bufs)
		if werr != nil {
			if werr == unix.EAGAIN || werr == unix.EWOULDBLOCK {
				return false, nil
			}
			return false, fmt.Errorf("writev fd=%d: %w", c.fd, werr)
		}
		if n == 0 {
			return false, nil
		}
		c.advanceCursor(n)
	}
	c.outIovec = nil
	c.outIdx = 0
	c.outOff = 0
	return true, nil
}

func (c *Conn) remainingIovecs() [][]byte {
	bufs := make([][]byte, 0, len(c.outIovec)-c.outIdx)
	for i := c.outIdx; i < len(c.outIovec); i++ {
		seg := c.outIovec[i]
		if i == c.outIdx {
			seg = seg[c.outOff:]
		}
		bufs = append(bufs, seg)
	}
	return bufs
}

func (c *Conn) advanceCursor(n int) {
	for n > 0 && c.outIdx < len(c.outIovec) {
		segLen := len(c.outIovec[c.outIdx]) - c.outOff
		if n < segLen {
			c.outOff += n
			return
		}
		n -= segLen
		c.outIdx++
		c.outOff = 0
	}
}

// Close closes the underlying socket. Idempotent.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}
