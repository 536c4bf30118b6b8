// Package transport establishes the connections hostterm runs over:
// plain or bastion-tunnelled TCP underneath, and the terminal WebSocket
// on top.  What flows over a connection is the caller's concern.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and one that forwards through an SSH bastion.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. the bastion connection).  Stateless dialers return nil.
	Close() error
}

// Socket is a message-oriented, bidirectional stream.  Each Read
// returns one whole message.
type Socket interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, p []byte) error
	Close() error
}

// SocketDialer opens a [Socket] to a ws:// or wss:// URL.
type SocketDialer interface {
	DialSocket(ctx context.Context, url string) (Socket, error)
}
