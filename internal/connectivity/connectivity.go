// Package connectivity answers "can we reach the remote store right now".
// Write-triggering actions are refused up front when offline instead of being
// attempted and rolled back.
package connectivity

import (
	"context"
	"net"
	"time"
)

// Checker probes a TCP endpoint to decide whether the network is usable.
type Checker struct {
	address string
	timeout time.Duration
}

// New creates a checker probing the given host:port.
func New(address string, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Checker{address: address, timeout: timeout}
}

// Online reports whether the probe endpoint accepted a connection.
func (c *Checker) Online(ctx context.Context) bool {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
