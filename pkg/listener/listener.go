// Package listener binds the cache's accept-side sockets: a UNIX domain
// socket at a configured path, a TCP socket on host:port, or both. Both
// are registered read-ready with the event loop and accept in a loop
// until EAGAIN, matching the server's single accepting thread model.
package listener

import (
	"fmt"
	"os"

	"github.com/cachegrid/rowcache/pkg/log"
	"golang.org/x/sys/unix"
)

// Backlog is the listen backlog applied to every bound socket.
const Backlog = 1024

// Config describes which sockets to bind. TCPPort == 0 disables the TCP
// listener; UnixPath == "" disables the UNIX listener. At least one
// must be set.
type Config struct {
	UnixPath string
	UnixMode os.FileMode
	TCPHost  string
	TCPPort  int
}

// Listener owns zero or more bound, non-blocking, listening file
// descriptors ready to be attached to the event loop.
type Listener struct {
	fds      []int
	tcpFDs   map[int]bool
	unixPath string
}

// Bind opens every socket named by cfg. On any failure it closes
// whatever it already opened and returns the error, since a failed
// bind at startup is fatal per the error handling design.
func Bind(cfg Config) (*Listener, error) {
	l := &Listener{tcpFDs: make(map[int]bool)}

	if cfg.UnixPath != "" {
		fd, err := bindUnix(cfg.UnixPath, cfg.UnixMode)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("bind unix socket %s: %w", cfg.UnixPath, err)
		}
		l.fds = append(l.fds, fd)
		l.unixPath = cfg.UnixPath
	}

	if cfg.TCPPort != 0 {
		fd, err := bindTCP(cfg.TCPHost, cfg.TCPPort)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("bind tcp %s:%d: %w", cfg.TCPHost, cfg.TCPPort, err)
		}
		l.fds = append(l.fds, fd)
		l.tcpFDs[fd] = true
	}

	if len(l.fds) == 0 {
		return nil, fmt.Errorf("listener: no socket configured (unix path and tcp port both empty)")
	}
	return l, nil
}

// FDs returns every bound listening descriptor, for the caller to
// Attach with the event loop.
func (l *Listener) FDs() []int {
	return l.fds
}

// Accept accepts every pending connection on fd until EAGAIN, invoking
// onAccept for each new non-blocking client descriptor. It returns the
// number of connections accepted. Clients accepted off a TCP listening
// fd get TCP_NODELAY set, matching the low-latency design the wire
// protocol is built around; UNIX domain sockets have no Nagle delay to
// disable.
func (l *Listener) Accept(fd int, onAccept func(clientFD int)) int {
	isTCP := l.tcpFDs[fd]
	n := 0
	for {
		clientFD, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return n
			}
			if err == unix.EINTR {
				continue
			}
			log.WithComponent("listener").Warn().Msgf("accept failed: %v", err)
			return n
		}
		if isTCP {
			if err := unix.SetsockoptInt(clientFD, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
				log.WithComponent("listener").Warn().Msgf("setsockopt TCP_NODELAY fd=%d: %v", clientFD, err)
			}
		}
		n++
		onAccept(clientFD)
	}
}

// Close closes every bound socket and removes the UNIX socket file, if
// any. Safe to call multiple times.
func (l *Listener) Close() {
	for _, fd := range l.fds {
		_ = unix.Close(fd)
	}
	l.fds = nil
	if l.unixPath != "" {
		_ = os.Remove(l.unixPath)
		l.unixPath = ""
	}
}

func bindUnix(path string, mode os.FileMode) (int, error) {
	_ = os.Remove(path)
	if mode == 0 {
		mode = 0660
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := os.Chmod(path, mode); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, Backlog); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func bindTCP(host string, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	setReusePort(fd)

	addr, err := resolveIPv4(host)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, Backlog); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
