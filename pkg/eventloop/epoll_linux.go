//go:build linux

package eventloop

import (
	"fmt"
	"sync"

	"github.com/cachegrid/rowcache/pkg/log"
	"golang.org/x/sys/unix"
)

// epollLoop is the Linux readiness backend.
type epollLoop struct {
	epfd int

	mu       sync.Mutex
	handlers map[int]Callback

	wakeR, wakeW int
	stopped      bool
}

// New constructs the platform-default loop: epoll on Linux.
func New() (Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	l := &epollLoop{
		epfd:     epfd,
		handlers: make(map[int]Callback),
	}

	r, w, err := pipe2NonBlock()
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("wakeup pipe: %w", err)
	}
	l.wakeR, l.wakeW = r, w

	if err := l.Attach(l.wakeR, Read, l.drainWakeup); err != nil {
		unix.Close(epfd)
		unix.Close(r)
		unix.Close(w)
		return nil, fmt.Errorf("attach wakeup fd: %w", err)
	}

	return l, nil
}

func pipe2NonBlock() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func (l *epollLoop) Name() string { return "epoll" }

func toEpollEvents(e Events) uint32 {
	var ev uint32
	if e&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if e&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpollEvents(ev uint32) Events {
	var e Events
	if ev&unix.EPOLLIN != 0 {
		e |= Read
	}
	if ev&unix.EPOLLOUT != 0 {
		e |= Write
	}
	if ev&unix.EPOLLHUP != 0 {
		e |= Hup
	}
	if ev&unix.EPOLLERR != 0 {
		e |= Err
	}
	return e
}

func (l *epollLoop) Attach(fd int, events Events, cb Callback) error {
	l.mu.Lock()
	l.handlers[fd] = cb
	l.mu.Unlock()

	ev := &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		l.mu.Lock()
		delete(l.handlers, fd)
		l.mu.Unlock()
		return fmt.Errorf("epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

func (l *epollLoop) Modify(fd int, events Events) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmt.Errorf("epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

func (l *epollLoop) Detach(fd int) error {
	l.mu.Lock()
	delete(l.handlers, fd)
	l.mu.Unlock()
	// EPOLL_CTL_DEL with a nil event is fine on modern kernels; ignore
	// ENOENT (open fd, never attached) and EBADF (fd number not open)
	// since Detach is safe to call on an fd never attached.
	err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

func (l *epollLoop) Run() error {
	events := make([]unix.EpollEvent, 256)
	logger := log.WithComponent("eventloop")
	for {
		n, err := unix.EpollWait(l.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			got := fromEpollEvents(events[i].Events)

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

func (l *epollLoop) drainWakeup(fd int, got Events) {
	var buf [64]byte
	for {
		_, err := unix.Read(l.wakeR, buf[:])
		if err != nil {
			break
		}
	}
}

func (l *epollLoop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	_, _ = unix.Write(l.wakeW, []byte{1})
}

func (l *epollLoop) Close() error {
	unix.Close(l.wakeR)
	unix.Close(l.wakeW)
	return unix.Close(l.epfd)
}
