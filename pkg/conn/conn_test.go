package conn

import (
	"testing"

	"github.com/cachegrid/rowcache/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type recordingDispatcher struct {
	calls []wire.Header
	resp  Response
}

func (d *recordingDispatcher) Dispatch(h wire.Header, key []byte, discarding bool) Response {
	d.calls = append(d.calls, h)
	return d.resp
}

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	return fds[0], fds[1]
}

func TestOnReadableParsesFetchAndDispatches(t *testing.T) {
	serverFD, clientFD := socketPair(t)
	defer unix.Close(clientFD)

	d := &recordingDispatcher{resp: Response{Segments: [][]byte{{0, 0, 0, 0}}}}
	c := New(serverFD, d)
	defer c.Close()

	req := []byte{wire.Version, byte(wire.ActionFetch), 1, 0, 0, 0, 0, 4, 'k', 'e', 'y', '1'}
	_, err := unix.Write(clientFD, req)
	require.NoError(t, err)

	ok := c.OnReadable()
	assert.True(t, ok)
	require.Len(t, d.calls, 1)
	assert.Equal(t, wire.ActionFetch, d.calls[0].Action)
	assert.Equal(t, uint32(4), d.calls[0].KeyLen)
}

func TestOnReadableEOFRecycles(t *testing.T) {
	serverFD, clientFD := socketPair(t)
	d := &recordingDispatcher{}
	c := New(serverFD, d)
	defer c.Close()

	unix.Close(clientFD)
	// Closing the peer of a socketpair takes effect at once, so read
	// reports EOF (n==0) rather than EAGAIN.
	ok := c.OnReadable()
	assert.False(t, ok)
}

func TestFlushWritesAllSegments(t *testing.T) {
	serverFD, clientFD := socketPair(t)
	defer unix.Close(clientFD)
	defer unix.Close(serverFD)

	c := New(serverFD, &recordingDispatcher{})
	c.queueResponse(Response{Segments: [][]byte{[]byte("hello"), []byte("world")}})

	done, err := c.Flush()
	require.NoError(t, err)
	assert.True(t, done)

	buf := make([]byte, 32)
	n, err := unix.Read(clientFD, buf)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(buf[:n]))
}

func TestOversizedKeyEntersDiscardMode(t *testing.T) {
	serverFD, clientFD := socketPair(t)
	defer unix.Close(clientFD)

	d := &recordingDispatcher{resp: Response{Segments: [][]byte{wire.MissResponse[:]}}}
	c := New(serverFD, d)
	defer c.Close()

	header := []byte{wire.Version, byte(wire.ActionFetch), 1, 0, 0, 1, 0, 1} // key_len = 65537 = MaxKeyLen+1
	_, err := unix.Write(clientFD, header)
	require.NoError(t, err)

	ok := c.OnReadable()
	assert.True(t, ok)
	// Key bytes haven't arrived yet, so no dispatch should have happened.
	assert.Len(t, d.calls, 0)
	assert.True(t, c.discarding)
}

func TestBadVersionClosesConnection(t *testing.T) {
	serverFD, clientFD := socketPair(t)
	defer unix.Close(clientFD)

	d := &recordingDispatcher{}
	c := New(serverFD, d)
	defer c.Close()

	bad := []byte{0x01, byte(wire.ActionFetch), 0, 0, 0, 0, 0, 0}
	_, err := unix.Write(clientFD, bad)
	require.NoError(t, err)

	ok := c.OnReadable()
	assert.False(t, ok)
}
