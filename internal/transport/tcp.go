package transport

import (
	"context"
	"net"
	"time"
)

// TCPDialer establishes direct TCP connections to the server.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration // 0 uses the net package default
}

// Dial connects to address.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }
