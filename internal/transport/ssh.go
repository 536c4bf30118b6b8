package transport

import (
	"context"
	"net"

	"hostterm/internal/metrics"
	"hostterm/internal/retry"
	"hostterm/tunnel"
	"hostterm/util"
)

// SSHDialer routes connections through an SSH bastion.  The bastion is
// connected lazily on the first Dial, reconnected if it drops, and torn
// down on Close.
type SSHDialer struct {
	mgr    *tunnel.Manager
	config *tunnel.SSHConfig
	logger *util.Logger
}

// NewSSHDialer creates a bastion dialer.  Connect attempts are retried
// with b (nil for the default backoff).
func NewSSHDialer(cfg *tunnel.SSHConfig, b *retry.Backoff, logger *util.Logger, m *metrics.Collector) *SSHDialer {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	t := tunnel.NewSSHTunnel(cfg, logger)
	return &SSHDialer{
		mgr:    tunnel.NewManager(t, b, logger, m),
		config: cfg,
		logger: logger,
	}
}

// Dial connects to address from the far side of the bastion.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.logger.Debug("dialing %s via bastion %s@%s", address, d.config.User, d.config.Addr())
	return d.mgr.Dial(ctx, network, address)
}

// Close tears down the bastion connection.
func (d *SSHDialer) Close() error {
	return d.mgr.Stop()
}
