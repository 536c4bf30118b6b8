package tunnel

import (
	"context"
	"net"
	"sync"

	herr "hostterm/internal/errors"
	"hostterm/internal/metrics"
	"hostterm/internal/retry"
	"hostterm/util"
)

// Manager keeps a [Tunnel] available for dialing.  It connects on first
// use, retries with backoff, and reconnects when the link has dropped
// by the time the next dial arrives.
type Manager struct {
	tunnel  Tunnel
	backoff *retry.Backoff
	logger  *util.Logger
	metrics *metrics.Collector

	mu       sync.Mutex
	connects int
	stopped  bool
}

// NewManager returns a Manager for t.  A nil backoff uses
// [retry.DefaultBackoff].
func NewManager(t Tunnel, b *retry.Backoff, logger *util.Logger, m *metrics.Collector) *Manager {
	if b == nil {
		b = retry.DefaultBackoff()
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Manager{tunnel: t, backoff: b, logger: logger, metrics: m}
}

// Ensure connects the tunnel if it is not alive.
func (m *Manager) Ensure(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return herr.ErrTunnelClosed
	}
	if m.tunnel.IsAlive() {
		return nil
	}
	if m.connects > 0 {
		m.logger.Warn("bastion link lost, reconnecting")
		m.metrics.TunnelReconnect()
	}

	err := m.backoff.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			m.logger.Verbose("bastion connect attempt %d", attempt)
			m.metrics.TunnelReconnect()
		}
		err := m.tunnel.Connect(ctx)
		if err != nil && !retryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		m.metrics.RecordError(err.Error())
		return err
	}
	m.connects++
	m.logger.Verbose("bastion connected")
	return nil
}

// retryable treats SSH-level failures (bad credentials, host key
// mismatch, failed handshake) as final.  Network failures are retried.
func retryable(err error) bool {
	var se *herr.SSHError
	return !herr.As(err, &se)
}

// Dial ensures the tunnel is up and forwards a connection through it.
func (m *Manager) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := m.Ensure(ctx); err != nil {
		return nil, err
	}
	return m.tunnel.Dial(ctx, network, address)
}

// Stop closes the tunnel.  Later calls to Ensure fail with
// ErrTunnelClosed.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true
	return m.tunnel.Close()
}
