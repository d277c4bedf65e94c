package printer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

type networkConn struct {
	conn net.Conn
	mu   sync.Mutex
	closer
}

// openNetwork dials a raw printing socket. An address that already carries a
// port is used as is.
func openNetwork(ctx context.Context, host string, port int, timeout time.Duration) (*networkConn, error) {
	if host == "" {
		return nil, fmt.Errorf("missing ip address")
	}
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, strconv.Itoa(port))
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to network printer: %w", err)
	}
	return &networkConn{conn: conn}, nil
}

func (c *networkConn) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(data)
}

func (c *networkConn) Close() error {
	return c.close(c.conn.Close)
}
