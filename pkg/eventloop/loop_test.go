package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAttachDeliversReadReady(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	got := make(chan Events, 1)
	require.NoError(t, l.Attach(fds[0], Read, func(fd int, events Events) {
		got <- events
		l.Stop()
	}))

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	_, err = unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.NotZero(t, ev&Read)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read readiness")
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestStopWakesBlockedRun(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	time.Sleep(20 * time.Millisecond)
	l.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestDetachBeforeAttachIsSafe(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	assert.NoError(t, l.Detach(99999))
}

func TestNameIsNonEmpty(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	assert.NotEmpty(t, l.Name())
}
