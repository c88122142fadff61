//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package eventloop

import (
	"fmt"
	"sync"

	"github.com/cachegrid/rowcache/pkg/log"
	"golang.org/x/sys/unix"
)

// kqueueLoop is the BSD/Darwin readiness backend.
type kqueueLoop struct {
	kq int

	mu       sync.Mutex
	filters  map[int]Events // last-registered filter set, for Modify diffing
	handlers map[int]Callback

	wakeR, wakeW int
	stopped      bool
}

// New constructs the platform-default loop: kqueue on BSD/Darwin.
func New() (Loop, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue: %w", err)
	}

	l := &kqueueLoop{
		kq:       kq,
		filters:  make(map[int]Events),
		handlers: make(map[int]Callback),
	}

	r, w, err := pipe2NonBlock()
	if err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("wakeup pipe: %w", err)
	}
	l.wakeR, l.wakeW = r, w

	if err := l.Attach(l.wakeR, Read, l.drainWakeup); err != nil {
		unix.Close(kq)
		unix.Close(r)
		unix.Close(w)
		return nil, fmt.Errorf("attach wakeup fd: %w", err)
	}

	return l, nil
}

func pipe2NonBlock() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return 0, 0, err
		}
	}
	return fds[0], fds[1], nil
}

func (l *kqueueLoop) Name() string { return "kqueue" }

func (l *kqueueLoop) changesFor(fd int, events Events) []unix.Kevent_t {
	var changes []unix.Kevent_t
	add := func(filter int16, flags uint16) {
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: filter,
			Flags:  flags,
		})
	}
	if events&Read != 0 {
		add(unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
	} else {
		add(unix.EVFILT_READ, unix.EV_DELETE)
	}
	if events&Write != 0 {
		add(unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE)
	} else {
		add(unix.EVFILT_WRITE, unix.EV_DELETE)
	}
	return changes
}

func (l *kqueueLoop) Attach(fd int, events Events, cb Callback) error {
	l.mu.Lock()
	l.handlers[fd] = cb
	l.filters[fd] = events
	l.mu.Unlock()

	changes := l.changesFor(fd, events)
	// EV_DELETE on a filter that was never added returns ENOENT; that
	// is expected on first attach and harmless.
	_, _ = unix.Kevent(l.kq, changes, nil, nil)
	return nil
}

func (l *kqueueLoop) Modify(fd int, events Events) error {
	l.mu.Lock()
	l.filters[fd] = events
	l.mu.Unlock()
	changes := l.changesFor(fd, events)
	_, _ = unix.Kevent(l.kq, changes, nil, nil)
	return nil
}

func (l *kqueueLoop) Detach(fd int) error {
	l.mu.Lock()
	delete(l.handlers, fd)
	delete(l.filters, fd)
	l.mu.Unlock()
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, _ = unix.Kevent(l.kq, changes, nil, nil)
	return nil
}

func (l *kqueueLoop) Run() error {
	events := make([]unix.Kevent_t, 256)
	logger := log.WithComponent("eventloop")
	for {
		n, err := unix.Kevent(l.kq, nil, events, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("kevent wait: %w", err)
		}

		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		for i := 0; i < n; i++ {
			fd := int(events[i].Ident)
			var got Events
			switch events[i].Filter {
			case unix.EVFILT_READ:
				got = Read
			case unix.EVFILT_WRITE:
				got = Write
			}
			if events[i].Flags&unix.EV_EOF != 0 {
				got |= Hup
			}
			if events[i].Flags&unix.EV_ERROR != 0 {
				got |= Err
			}

			l.mu.Lock()
			cb, ok := l.handlers[fd]
			l.mu.Unlock()
			if !ok {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error().Interface("panic", r).Int("fd", fd).Msg("callback panicked, fd detached")
						_ = l.Detach(fd)
					}
				}()
				cb(fd, got)
			}()
		}

		l.mu.Lock()
		stop := l.stopped
		l.mu.Unlock()
		if stop {
			return nil
		}
	}
}

func (l *kqueueLoop) drainWakeup(fd int, got Events) {
	var buf [64]byte
	for {
		_, err := unix.Read(l.wakeR, buf[:])
		if err != nil {
			break
		}
	}
}

func (l *kqueueLoop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	_, _ = unix.Write(l.wakeW, []byte{1})
}

func (l *kqueueLoop) Close() error {
	unix.Close(l.wakeR)
	unix.Close(l.wakeW)
	return unix.Close(l.kq)
}
