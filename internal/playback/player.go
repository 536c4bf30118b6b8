package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"hostterm/internal/display"
	"hostterm/internal/metrics"
	"hostterm/util"
)

// Defaults for [Options].
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultRestartGrace = 100 * time.Millisecond
)

// ErrNoRecording is returned by Play when nothing has been loaded.
var ErrNoRecording = errors.New("no recording loaded")

// Options configures a [Player].
type Options struct {
	Sink display.Sink

	// PollInterval is how often a paused replay checks for resume.
	PollInterval time.Duration
	// RestartGrace separates the stop and play halves of Restart.
	RestartGrace time.Duration

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Player replays one recording at a time onto a sink.  At most one
// replay loop runs per Player; starting a new one retires the old.
// All methods are safe for concurrent use.
type Player struct {
	sink    display.Sink
	poll    time.Duration
	grace   time.Duration
	logger  *util.Logger
	metrics *metrics.Collector

	mu      sync.Mutex // held for state changes and every sink write
	rec     *Recording
	gen     uint64
	playing bool
	paused  bool
	cursor  int
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an idle player.
func New(opts Options) *Player {
	p := &Player{
		sink:    opts.Sink,
		poll:    opts.PollInterval,
		grace:   opts.RestartGrace,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		done:    closedChan(),
	}
	if p.poll <= 0 {
		p.poll = DefaultPollInterval
	}
	if p.grace < 0 {
		p.grace = 0
	} else if p.grace == 0 {
		p.grace = DefaultRestartGrace
	}
	if p.logger == nil {
		p.logger = util.NewLogger(0)
	}
	return p
}

// Load stops any replay in progress and installs rec.  A nil rec
// unloads the current recording; Play then fails with ErrNoRecording.
func (p *Player) Load(rec *Recording) {
	p.Stop()
	p.mu.Lock()
	p.rec = rec
	p.cursor = 0
	p.mu.Unlock()
	if rec == nil {
		return
	}
	for _, s := range rec.Skipped {
		p.logger.Verbose("skipped %v", s)
	}
}

// LoadFrom fetches recording id from src, installs it and starts
// playing.  On failure nothing is left playing and the error is
// returned.
func (p *Player) LoadFrom(ctx context.Context, src Source, id string) error {
	p.Stop()
	rec, err := Load(ctx, src, id)
	if err != nil {
		p.metrics.RecordError(err.Error())
		p.logger.Error("loading recording %s: %v", id, err)
		return fmt.Errorf("load recording %s: %w", id, err)
	}
	p.logger.Verbose("recording %s: %d events, %.1fs, %d lines skipped",
		id, len(rec.Events), rec.Duration(), len(rec.Skipped))
	p.Load(rec)
	return p.Play()
}

// Play resets the sink and replays from the first event.  A replay
// already running is abandoned first.
func (p *Player) Play() error {
	p.mu.Lock()
	if p.rec == nil {
		p.mu.Unlock()
		return ErrNoRecording
	}
	p.retire()

	p.gen++
	gen := p.gen
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.playing = true
	p.paused = false
	p.cursor = 0
	p.cancel = cancel
	p.done = done
	events := p.rec.Events

	err := p.sink.Reset()
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("reset display: %v", err)
	}
	go p.run(ctx, gen, events, done)
	return nil
}

// TogglePause flips the paused flag and returns the new value.  The
// cursor does not move.
func (p *Player) TogglePause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = !p.paused
	return p.paused
}

// Resume clears the paused flag.
func (p *Player) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Stop ends the replay.  No event is written after Stop returns.
func (p *Player) Stop() {
	p.mu.Lock()
	p.retire()
	p.mu.Unlock()
}

// Restart stops, waits RestartGrace, then plays from the start.
func (p *Player) Restart() error {
	p.Stop()
	time.Sleep(p.grace)
	return p.Play()
}

// Playing reports whether a replay is in progress (paused included).
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Paused reports whether the replay is paused.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Cursor returns the index of the next event to be processed.
func (p *Player) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Done returns a channel closed when the current replay loop exits.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// retire invalidates the running loop.  Callers hold p.mu.
func (p *Player) retire() {
	p.gen++
	p.playing = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// run is the replay loop: strictly sequential, one event at a time,
// sleeping the recorded gap between consecutive events.
func (p *Player) run(ctx context.Context, gen uint64, events []Event, done chan struct{}) {
	defer close(done)
	defer p.finish(gen)

	for i := 0; i < len(events); i++ {
		if !p.waitWhilePaused(ctx, gen) {
			return
		}

		ev := events[i]
		if !p.emit(gen, i, ev) {
			return
		}

		if i+1 < len(events) {
			if d := gap(ev, events[i+1]); d > 0 {
				t := time.NewTimer(d)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}
		}
	}
}

// maxGap bounds the delay between two events; larger gaps come from
// corrupt timestamps that would overflow a Duration.
const maxGap = time.Duration(math.MaxInt64)

// gap is the real-time delay between two events, never negative.
func gap(cur, next Event) time.Duration {
	d := next.Time - cur.Time
	if !(d > 0) {
		return 0
	}
	ns := d * float64(time.Second)
	if ns >= float64(maxGap) {
		return maxGap
	}
	return time.Duration(ns)
}

// waitWhilePaused polls until the replay is unpaused.  It returns false
// if the loop was retired meanwhile.
func (p *Player) waitWhilePaused(ctx context.Context, gen uint64) bool {
	for {
		p.mu.Lock()
		live, paused := p.gen == gen, p.paused
		p.mu.Unlock()
		if !live {
			return false
		}
		if !paused {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.poll):
		}
	}
}

// emit processes event i: it advances the cursor and, for output
// events, writes the payload.  The generation check and the write
// happen under one lock so a concurrent Stop cannot slip between them.
func (p *Player) emit(gen uint64, i int, ev Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return false
	}
	p.cursor = i + 1
	if ev.Kind != KindOutput {
		return true
	}
	if _, err := p.sink.Write([]byte(ev.Payload)); err != nil {
		p.logger.Warn("playback write: %v", err)
	}
	p.metrics.PlaybackEventWritten()
	return true
}

// finish marks the replay complete if gen still owns the player.
func (p *Player) finish(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen == gen {
		p.playing = false
		p.paused = false
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
