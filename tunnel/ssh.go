package tunnel

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	herr "hostterm/internal/errors"
	"hostterm/util"
)

// SSHConfig describes the bastion host used to reach the server.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
}

// Addr returns host:port of the bastion.
func (c *SSHConfig) Addr() string {
	return util.FormatAddr(c.Host, c.Port)
}

// SSHTunnel implements [Tunnel] over an SSH client connection.  API
// requests and the terminal WebSocket are carried as direct-tcpip
// channels of that one connection.
type SSHTunnel struct {
	config *SSHConfig
	logger *util.Logger

	mu     sync.RWMutex
	client *ssh.Client
	alive  bool
}

// NewSSHTunnel creates a tunnel that is ready to [SSHTunnel.Connect].
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &SSHTunnel{config: cfg, logger: logger}
}

// Connect dials the bastion and completes the SSH handshake.  Calling
// it again after the link dropped replaces the old client.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	authMethods, err := BuildAuthMethods(t.config)
	if err != nil {
		return herr.WrapSSH("auth", t.config.Host, t.config.Port, err)
	}

	hkCallback, err := hostKeyCallback(t.config)
	if err != nil {
		return herr.WrapSSH("hostkey", t.config.Host, t.config.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            t.config.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         t.config.ConnTimeout,
	}

	addr := t.config.Addr()
	t.logger.Debug("bastion: dialing %s as %s", addr, t.config.User)

	dialer := net.Dialer{Timeout: t.config.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return herr.Wrap("dial", addr, err)
	}

	// The handshake has no context of its own; bound it by ctx.
	stop := context.AfterFunc(ctx, func() { tcpConn.SetDeadline(time.Now()) }) //nolint:errcheck
	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	stop()
	if err != nil {
		tcpConn.Close()
		return t.handshakeError(addr, err)
	}
	tcpConn.SetDeadline(time.Time{}) //nolint:errcheck

	client := ssh.NewClient(sshConn, chans, reqs)

	t.mu.Lock()
	old := t.client
	t.client = client
	t.alive = true
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go t.monitor(client)
	return nil
}

// handshakeError classifies a failed handshake.  A deadline hit is a
// network failure (retried); everything else is final.
func (t *SSHTunnel) handshakeError(addr string, err error) error {
	var keyErr *knownhosts.KeyError
	switch {
	case herr.Is(err, os.ErrDeadlineExceeded):
		return herr.Wrap("handshake", addr, fmt.Errorf("%w: %v", herr.ErrTimeout, err))
	case herr.As(err, &keyErr) && len(keyErr.Want) > 0:
		err = fmt.Errorf("%w: %v", herr.ErrHostKeyMismatch, err)
	case strings.Contains(err.Error(), "unable to authenticate"):
		err = fmt.Errorf("%w: %v", herr.ErrAuthFailed, err)
	}
	return herr.WrapSSH("handshake", t.config.Host, t.config.Port, err)
}

// Dial opens a channel to address on the far side of the bastion.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t.mu.RLock()
	client := t.client
	alive := t.alive
	t.mu.RUnlock()

	if !alive || client == nil {
		return nil, herr.ErrNotConnected
	}

	t.logger.Debug("bastion: forwarding %s %s", network, address)
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("bastion dial %s: %w", address, err)
	}
	return conn, nil
}

// Close shuts down the SSH connection.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.alive = false
	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		return err
	}
	return nil
}

// IsAlive reports whether the SSH connection is still up.
func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

// monitor waits for client to close and marks the tunnel down, unless
// a newer client has replaced it in the meantime.
func (t *SSHTunnel) monitor(client *ssh.Client) {
	err := client.Wait()

	t.mu.Lock()
	if t.client == client {
		t.alive = false
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Debug("bastion connection closed: %v", err)
	} else {
		t.logger.Debug("bastion connection closed")
	}
}
