package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"hostterm/internal/display"
	herr "hostterm/internal/errors"
	"hostterm/internal/transport"
	"hostterm/util"
)

// DetachKey ends a connect session from the keyboard (Ctrl-]).
const DetachKey = 0x1d

// LiveSession is the part of live.Engine that ConnectMode drives.
type LiveSession interface {
	Connect(ctx context.Context, hostID string) error
	SendInput(text string)
	Resize(cols, rows uint16) error
	Done() <-chan struct{}
	Err() error
	Close() error
}

// ConnectMode attaches the local terminal to a shell on a managed host.
type ConnectMode struct {
	Engine LiveSession
	Sink   display.Sink
	HostID string
	// Route is closed when Run returns (nil for none).
	Route  transport.Dialer
	Logger *util.Logger

	// Stdin defaults to os.Stdin when nil.  Resizes defaults to the
	// platform window-change watcher.  Override both in tests.
	Stdin   io.Reader
	Resizes <-chan struct{}
}

func (m *ConnectMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

// Run connects, then pumps keystrokes to the session and window size
// changes to the server until the session ends, the user detaches or
// ctx is cancelled.  A session dropped by an error returns that error.
func (m *ConnectMode) Run(ctx context.Context) error {
	if m.Route != nil {
		defer m.Route.Close()
	}
	defer m.Engine.Close()

	if rt, ok := m.Sink.(rawTerminal); ok {
		if err := rt.MakeRaw(); err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
	}

	m.Logger.Verbose("connecting to host %s", m.HostID)
	if err := m.Engine.Connect(ctx, m.HostID); err != nil {
		return fmt.Errorf("connect to host %s: %w", m.HostID, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	detached := make(chan struct{})
	go func() {
		err := util.Pump(ctx, m.stdin(), func(chunk []byte) bool {
			if i := bytes.IndexByte(chunk, DetachKey); i >= 0 {
				if i > 0 {
					m.Engine.SendInput(string(chunk[:i]))
				}
				close(detached)
				return false
			}
			m.Engine.SendInput(string(chunk))
			return true
		})
		if err != nil {
			m.Logger.Debug("stdin: %v", err)
		}
	}()

	resizes := m.Resizes
	if resizes == nil {
		resizes = watchResize(ctx)
	}
	last := m.Sink.Size()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-detached:
			m.Logger.Info("detached from host %s", m.HostID)
			return nil
		case <-m.Engine.Done():
			err := m.Engine.Err()
			if herr.IsTransport(err) {
				m.Logger.Warn("connection to host %s dropped", m.HostID)
			}
			return err
		case <-resizes:
			g := m.Sink.Fit()
			if g == last {
				continue
			}
			if err := m.Engine.Resize(g.Cols, g.Rows); err != nil {
				m.Logger.Debug("resize %s: %v", g, err)
				continue
			}
			last = g
		}
	}
}
