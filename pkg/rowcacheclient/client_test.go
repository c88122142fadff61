package rowcacheclient

import (
	"net"
	"testing"
	"time"

	"github.com/cachegrid/rowcache/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServer(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		handle(conn)
	}()
	return ln.Addr().String()
}

func readHeader(t *testing.T, conn net.Conn) wire.Header {
	t.Helper()
	buf := make([]byte, wire.HeaderLen)
	_, err := conn.Read(buf)
	require.NoError(t, err)
	h := wire.Decode(buf)
	if h.KeyLen > 0 {
		key := make([]byte, h.KeyLen)
		_, err := conn.Read(key)
		require.NoError(t, err)
	}
	return h
}

func TestFetchHit(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		h := readHeader(t, conn)
		assert.Equal(t, wire.ActionFetch, h.Action)
		payload := []byte(`{"id":1}`)
		frame := make([]byte, 4+len(payload))
		wire.FrameLength(len(payload), frame)
		copy(frame[4:], payload)
		_, _ = conn.Write(frame)
	})

	c, err := Dial("tcp", addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	payload, ok, err := c.Fetch(1, 0, []byte{0, 0, 0, 1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":1}`, string(payload))
}

func TestFetchMiss(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		readHeader(t, conn)
		_, _ = conn.Write(wire.MissResponse[:])
	})

	c, err := Dial("tcp", addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Fetch(1, 0, []byte{0, 0, 0, 99})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuit(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		h := readHeader(t, conn)
		assert.Equal(t, wire.ActionQuit, h.Action)
		payload := []byte(`{"BYE":true}`)
		frame := make([]byte, 4+len(payload))
		wire.FrameLength(len(payload), frame)
		copy(frame[4:], payload)
		_, _ = conn.Write(frame)
	})

	c, err := Dial("tcp", addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Quit()
	require.NoError(t, err)
	assert.JSONEq(t, `{"BYE":true}`, string(resp))
}
