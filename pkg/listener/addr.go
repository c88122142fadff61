package listener

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// setReusePort best-effort enables SO_REUSEPORT where the platform
// supports it. Its absence is not fatal: SO_REUSEADDR alone is enough
// for a single-process listener to rebind quickly after restart.
func setReusePort(fd int) {
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// resolveIPv4 turns a configured host string into a 4-byte address
// suitable for SockaddrInet4. An empty host binds to all interfaces.
func resolveIPv4(host string) ([4]byte, error) {
	var out [4]byte
	if host == "" || host == "0.0.0.0" {
		return out, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return out, fmt.Errorf("resolve host %q: %w", host, err)
		}
		ip = ips[0]
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return out, fmt.Errorf("host %q is not an IPv4 address", host)
	}
	copy(out[:], ip4)
	return out, nil
}
