package core

import (
	"context"
	"fmt"
	"io"
	"os"

	"hostterm/internal/display"
	"hostterm/internal/playback"
	"hostterm/internal/transport"
	"hostterm/util"
)

// Playback keys.
const (
	keyPause   = ' '
	keyRestart = 'r'
	keyQuit    = 'q'
	keyCtrlC   = 0x03 // raw mode swallows SIGINT
)

// Replayer is the part of playback.Player that PlayMode drives.
type Replayer interface {
	LoadFrom(ctx context.Context, src playback.Source, id string) error
	TogglePause() bool
	Restart() error
	Stop()
	Done() <-chan struct{}
}

// PlayMode replays a recording onto the local terminal with keyboard
// controls: space pauses, r restarts, q quits.
type PlayMode struct {
	Player      Replayer
	Source      playback.Source
	RecordingID string
	Sink        display.Sink
	// Route is closed when Run returns (nil for none).
	Route  transport.Dialer
	Logger *util.Logger

	// WaitAtEnd keeps the mode running after the last event so the
	// user can restart; otherwise Run returns when playback ends.
	WaitAtEnd bool

	// Stdin defaults to os.Stdin when nil.
	Stdin io.Reader
}

func (m *PlayMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

// Run loads the recording and plays it until it ends, the user quits
// or ctx is cancelled.
func (m *PlayMode) Run(ctx context.Context) error {
	if m.Route != nil {
		defer m.Route.Close()
	}
	defer m.Sink.Dispose() //nolint:errcheck
	defer m.Player.Stop()

	if rt, ok := m.Sink.(rawTerminal); ok {
		if err := rt.MakeRaw(); err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
	}

	if err := m.Player.LoadFrom(ctx, m.Source, m.RecordingID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	keys := make(chan byte, 16)
	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		err := util.Pump(ctx, m.stdin(), func(chunk []byte) bool {
			for _, k := range chunk {
				select {
				case keys <- k:
				case <-ctx.Done():
					return false
				}
			}
			return true
		})
		if err != nil {
			m.Logger.Debug("stdin: %v", err)
		}
	}()

	wait := m.WaitAtEnd
	done := m.Player.Done()
	finished := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-done:
			if !wait {
				return nil
			}
			finished = true
			done = nil
			m.Logger.Verbose("playback finished; r to replay, q to quit")

		case <-inputDone:
			// No more keys: nothing can restart a finished replay.
			inputDone = nil
			wait = false
			if finished {
				return nil
			}

		case k := <-keys:
			switch k {
			case keyPause:
				if m.Player.TogglePause() {
					m.Logger.Verbose("paused")
				} else {
					m.Logger.Verbose("resumed")
				}
			case keyRestart, 'R':
				if err := m.Player.Restart(); err != nil {
					return err
				}
				finished = false
				done = m.Player.Done()
			case keyQuit, 'Q', keyCtrlC:
				return nil
			}
		}
	}
}
