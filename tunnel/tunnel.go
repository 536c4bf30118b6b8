// Package tunnel reaches the management server through an SSH bastion
// when it is not directly routable.  The SSH implementation is backed
// by golang.org/x/crypto/ssh.
package tunnel

import (
	"context"
	"net"
)

// Tunnel is an encrypted channel through which TCP connections to the
// server can be forwarded.
type Tunnel interface {
	// Connect establishes the tunnel to the bastion.
	Connect(ctx context.Context) error

	// Dial opens a connection to address through the tunnel.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close tears down the tunnel and frees resources.
	Close() error

	// IsAlive reports whether the underlying connection is still up.
	IsAlive() bool
}
