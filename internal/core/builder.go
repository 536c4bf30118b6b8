package core

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"hostterm/config"
	"hostterm/internal/apiclient"
	"hostterm/internal/display"
	herr "hostterm/internal/errors"
	"hostterm/internal/live"
	"hostterm/internal/metrics"
	"hostterm/internal/playback"
	"hostterm/internal/retry"
	"hostterm/internal/session"
	"hostterm/internal/transport"
	"hostterm/tunnel"
	"hostterm/util"
)

// Deps are the process-wide pieces a mode is built around.  Nil fields
// get defaults: the real terminal, a fresh logger, no metrics.
type Deps struct {
	Sink    display.Sink
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Build constructs the appropriate Mode from the given configuration.
func Build(cfg *config.Config, deps Deps) (Mode, error) {
	if deps.Logger == nil {
		deps.Logger = util.NewLogger(cfg.Verbose)
	}
	switch cfg.Mode {
	case config.ModeConnect:
		return buildConnect(cfg, deps)
	case config.ModePlay:
		return buildPlay(cfg, deps)
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

// ── mode builders ────────────────────────────────────────────────────

func buildConnect(cfg *config.Config, deps Deps) (Mode, error) {
	route := buildDialer(cfg, deps)
	rt := transport.HTTPTransport(route)

	api, err := buildAPI(cfg, rt, deps)
	if err != nil {
		return nil, err
	}

	sink := deps.Sink
	if sink == nil {
		sink = display.NewTerminal(os.Stdin, os.Stdout)
	}

	logger := deps.Logger
	engine := live.New(live.Options{
		Origin:  cfg.ServerOrigin,
		Tickets: api,
		Dialer:  transport.NewWSDialer(rt, logger),
		Sink:    sink,
		OnStateChange: func(s session.State) {
			logger.Verbose("session %s", s)
		},
		Logger:  logger,
		Metrics: deps.Metrics,
	})

	return &ConnectMode{
		Engine: engine,
		Sink:   sink,
		HostID: cfg.HostID,
		Route:  route,
		Logger: logger,
	}, nil
}

func buildPlay(cfg *config.Config, deps Deps) (Mode, error) {
	sink := deps.Sink
	if sink == nil {
		sink = display.NewTerminal(os.Stdin, os.Stdout)
	}
	wait := false
	if t, ok := sink.(*display.Terminal); ok {
		wait = t.IsInteractive()
	}

	mode := &PlayMode{
		Player: playback.New(playback.Options{
			Sink:         sink,
			PollInterval: cfg.PollInterval,
			RestartGrace: cfg.RestartGrace,
			Logger:       deps.Logger,
			Metrics:      deps.Metrics,
		}),
		Sink:      sink,
		Logger:    deps.Logger,
		WaitAtEnd: wait,
	}

	if cfg.RecordingFile != "" {
		mode.Source = playback.FileSource{Dir: cfg.RecordingsDir}
		mode.RecordingID = cfg.RecordingFile
		return mode, nil
	}

	route := buildDialer(cfg, deps)
	api, err := buildAPI(cfg, transport.HTTPTransport(route), deps)
	if err != nil {
		return nil, err
	}
	mode.Source = playback.ServerSource{API: api}
	mode.RecordingID = cfg.RecordingID
	mode.Route = route
	return mode, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the route to the server: through the bastion when
// a tunnel is configured, direct TCP otherwise.
func buildDialer(cfg *config.Config, deps Deps) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   config.DefaultConnTimeout,
		}, &retry.Backoff{
			InitialDelay: retry.DefaultBackoff().InitialDelay,
			MaxDelay:     config.DefaultMaxReconnectBackoff,
			Multiplier:   2,
			MaxAttempts:  config.DefaultMaxReconnectAttempts,
			Jitter:       true,
		}, deps.Logger, deps.Metrics)
	}
	return &transport.TCPDialer{Timeout: config.DefaultConnTimeout}
}

// buildAPI creates the management API client over rt.
func buildAPI(cfg *config.Config, rt http.RoundTripper, deps Deps) (*apiclient.Client, error) {
	logger := deps.Logger
	breaker := retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
		OnStateChange: func(from, to retry.State) {
			logger.Verbose("api circuit %s → %s", from, to)
		},
		Ignore: func(err error) bool { return herr.Is(err, context.Canceled) },
	})
	api, err := apiclient.New(apiclient.Options{
		Origin:      cfg.ServerOrigin,
		Credentials: apiclient.NewMemoryStore(cfg.Credential),
		HTTPClient:  &http.Client{Transport: rt},
		Timeout:     cfg.Timeout,
		Breaker:     breaker,
		OnSessionExpired: func() {
			logger.Warn("server rejected the token; log in again and pass a fresh --token")
		},
		Logger:  logger,
		Metrics: deps.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("server %q: %w", cfg.ServerOrigin, err)
	}
	return api, nil
}
