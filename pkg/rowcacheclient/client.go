// Package rowcacheclient is a minimal client for the cache's binary
// socket protocol, used by integration tests and operational tooling
// to exercise fetch/describe/stats/quit without standing up a second
// server implementation.
package rowcacheclient

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/cachegrid/rowcache/pkg/wire"
)

// Client is a single connection to a cache server speaking the binary
// protocol. It is not safe for concurrent use: requests are serialized
// on the wire, exactly like the server expects.
type Client struct {
	conn    net.Conn
	timeout time.Duration
}

// Dial opens a connection over the given network ("unix" or "tcp") and
// address.
func Dial(network, address string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Fetch sends an F request for key against (tableID, indexID) and
// returns the payload bytes on a hit, or ok=false on a miss.
func (c *Client) Fetch(tableID, indexID byte, key []byte) (payload []byte, ok bool, err error) {
	if err := c.send(wire.ActionFetch, tableID, indexID, key); err != nil {
		return nil, false, err
	}
	n, err := c.readLength()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}
	buf, err := c.readN(int(n))
	if err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

// Schema sends a D request and returns the raw schema JSON blob.
func (c *Client) Schema() ([]byte, error) {
	return c.simpleRequest(wire.ActionSchema)
}

// Stats sends an s request and returns the raw stats JSON blob.
func (c *Client) Stats() ([]byte, error) {
	return c.simpleRequest(wire.ActionStats)
}

// Quit sends a q request and returns the server's {"BYE":true} reply.
func (c *Client) Quit() ([]byte, error) {
	return c.simpleRequest(wire.ActionQuit)
}

func (c *Client) simpleRequest(action wire.Action) ([]byte, error) {
	if err := c.send(action, 0, 0, nil); err != nil {
		return nil, err
	}
	n, err := c.readLength()
	if err != nil {
		return nil, err
	}
	return c.readN(int(n))
}

func (c *Client) send(action wire.Action, tableID, indexID byte, key []byte) error {
	header := make([]byte, wire.HeaderLen)
	wire.Encode(wire.Header{
		Version: wire.Version,
		Action:  action,
		TableID: tableID,
		IndexID: indexID,
		KeyLen:  uint32(len(key)),
	}, header)

	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	if _, err := c.conn.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if len(key) > 0 {
		if _, err := c.conn.Write(key); err != nil {
			return fmt.Errorf("write key: %w", err)
		}
	}
	return nil
}

func (c *Client) readLength() (uint32, error) {
	buf, err := c.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

func (c *Client) readN(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	buf := make([]byte, n)
	read := 0
	for read < n {
		k, err := c.conn.Read(buf[read:])
		if err != nil {
			return nil, fmt.Errorf("read %d bytes: %w", n, err)
		}
		read += k
	}
	return buf, nil
}
