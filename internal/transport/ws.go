package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"hostterm/util"
)

// DefaultReadLimit caps a single inbound WebSocket message.
const DefaultReadLimit = 1 << 20

// HTTPTransport returns an [http.Transport] whose connections are made
// by d, so API calls and WebSocket upgrades share one route to the
// server (direct or through the bastion).  Direct routes (nil or a
// [TCPDialer]) honour proxy environment variables; tunnelled ones do not.
func HTTPTransport(d Dialer) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if d == nil {
		return t
	}
	t.DialContext = d.Dial
	if _, direct := d.(*TCPDialer); !direct {
		t.Proxy = nil
	}
	return t
}

// WSDialer opens terminal WebSockets.
type WSDialer struct {
	// ReadLimit caps inbound message size (default 1 MiB).
	ReadLimit int64
	// Header is sent with the upgrade request.
	Header http.Header

	client *http.Client
	logger *util.Logger
}

// NewWSDialer returns a dialer that upgrades over rt.  A nil rt uses
// [http.DefaultTransport].
func NewWSDialer(rt http.RoundTripper, logger *util.Logger) *WSDialer {
	if rt == nil {
		rt = http.DefaultTransport
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	// The WebSocket library rejects clients with a Timeout; callers bound
	// the handshake with their context instead.
	return &WSDialer{client: &http.Client{Transport: rt}, logger: logger}
}

// DialSocket performs the WebSocket handshake with url.
func (w *WSDialer) DialSocket(ctx context.Context, url string) (Socket, error) {
	c, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: w.client,
		HTTPHeader: w.Header,
	})
	if err != nil {
		err = redactError(err, url)
		if resp != nil {
			return nil, fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, err
	}

	limit := w.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	c.SetReadLimit(limit)
	w.logger.Debug("websocket upgraded")
	return &WSConn{conn: c}, nil
}

// WSConn is a [Socket] over a WebSocket.  Messages are sent as text
// frames; inbound text and binary messages are both accepted.
type WSConn struct {
	conn *websocket.Conn
}

func (w *WSConn) Read(ctx context.Context) ([]byte, error) {
	_, p, err := w.conn.Read(ctx)
	return p, err
}

func (w *WSConn) Write(ctx context.Context, p []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, p)
}

// Close performs the closing handshake with a normal status.
func (w *WSConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}

// IsNormalClosure reports whether err is the peer closing the stream
// deliberately rather than the connection failing.
func IsNormalClosure(err error) bool {
	if err == nil {
		return false
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
