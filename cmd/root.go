// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"hostterm/config"
	"hostterm/internal/core"
	"hostterm/internal/metrics"
	"hostterm/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X hostterm/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// invocation is a parsed command line.
type invocation struct {
	cfg         *config.Config
	fs          *flag.FlagSet
	showHelp    bool
	showVersion bool
}

// Execute parses args and runs the selected hostterm mode.
func Execute(ctx context.Context, args []string) error {
	inv, err := parse(args)
	if err != nil {
		return err
	}
	if inv.showHelp {
		printUsage(inv.fs)
		return nil
	}
	if inv.showVersion {
		fmt.Printf("hostterm %s\n", version)
		return nil
	}

	cfg := inv.cfg
	logger := util.NewLogger(cfg.Verbose)
	if cfg.DryRun {
		logger.Info("configuration OK: %s via %s", describe(cfg), cfg.ServerOrigin)
		return nil
	}

	collector := metrics.New()
	if cfg.MetricsAddr != "" {
		addr, stop, err := serveMetrics(cfg.MetricsAddr, collector, logger)
		if err != nil {
			return err
		}
		defer stop()
		logger.Verbose("metrics on http://%s/metrics", addr)
	}

	mode, err := core.Build(cfg, core.Deps{Logger: logger, Metrics: collector})
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// parse builds the configuration: defaults, then the YAML file, the
// dotenv file and the environment, then any flag given explicitly.
func parse(args []string) (*invocation, error) {
	inv := &invocation{}
	fs := flag.NewFlagSet("hostterm", flag.ContinueOnError)
	inv.fs = fs

	var (
		server, token, cfgFile, file, recDir string
		timeout, poll, grace                 time.Duration
		tunnelSpec, sshKey, knownHosts       string
		sshPassword, sshAgent, strictHostKey bool
		metricsAddr                          string
		verbose                              int
		dryRun                               bool
	)

	// ── backend ──────────────────────────────────────────────────
	fs.StringVarP(&server, "server", "s", config.DefaultServerOrigin, "Server origin (http[s]://host[:port])")
	fs.StringVar(&token, "token", "", "API bearer token")
	fs.StringVar(&cfgFile, "config", "", "YAML config file")
	fs.DurationVarP(&timeout, "timeout", "w", config.DefaultRequestTimeout, "API request timeout")

	// ── playback ─────────────────────────────────────────────────
	fs.StringVarP(&file, "file", "f", "", "Play a local recording file instead of a server recording")
	fs.StringVar(&recDir, "recordings-dir", "", "Directory relative --file paths are resolved against")
	fs.DurationVar(&poll, "poll-interval", config.DefaultPollInterval, "How often a paused replay checks for resume")
	fs.DurationVar(&grace, "restart-grace", config.DefaultRestartGrace, "Pause between stop and play on restart")

	// ── SSH bastion ──────────────────────────────────────────────
	fs.StringVarP(&tunnelSpec, "tunnel", "T", "", "Reach the server through SSH bastion [user@]host[:port]")
	fs.StringVar(&sshKey, "ssh-key", "", "SSH private key file")
	fs.BoolVar(&sshPassword, "ssh-password", false, "Prompt for SSH password")
	fs.BoolVar(&sshAgent, "ssh-agent", false, "Use SSH agent")
	fs.BoolVar(&strictHostKey, "strict-hostkey", false, "Verify SSH host keys")
	fs.StringVar(&knownHosts, "known-hosts", "", "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVar(&inv.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&inv.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		inv.showHelp = true
	}
	if inv.showHelp || inv.showVersion {
		return inv, nil
	}

	cfg := config.Defaults()
	if err := config.Load(cfg, cfgFile); err != nil {
		return nil, err
	}

	// Explicit flags win over every other source.
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("server", func() { cfg.ServerOrigin = server })
	set("token", func() { cfg.Credential = token })
	set("timeout", func() { cfg.Timeout = timeout })
	set("file", func() { cfg.RecordingFile = file })
	set("recordings-dir", func() { cfg.RecordingsDir = recDir })
	set("poll-interval", func() { cfg.PollInterval = poll })
	set("restart-grace", func() { cfg.RestartGrace = grace })
	set("tunnel", func() { cfg.TunnelSpec = tunnelSpec })
	set("ssh-key", func() { cfg.SSHKeyPath = sshKey })
	set("ssh-password", func() { cfg.SSHPassword = sshPassword })
	set("ssh-agent", func() { cfg.UseSSHAgent = sshAgent })
	set("strict-hostkey", func() { cfg.StrictHostKey = strictHostKey })
	set("known-hosts", func() { cfg.KnownHostsPath = knownHosts })
	set("metrics-addr", func() { cfg.MetricsAddr = metricsAddr })
	set("verbose", func() { cfg.Verbose = config.DefaultVerbosity + verbose })
	cfg.DryRun = dryRun

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return nil, err
	}

	// ── tunnel spec ──────────────────────────────────────────────
	if err := cfg.ResolveTunnel(); err != nil {
		return nil, err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	inv.cfg = cfg
	return inv, nil
}

// ── helpers ──────────────────────────────────────────────────────────

func parsePositional(cfg *config.Config, remaining []string) error {
	if len(remaining) == 0 {
		return errors.New("command required: connect <hostId> or play <recordingId> (use --help for usage)")
	}

	switch verb, rest := remaining[0], remaining[1:]; config.Mode(verb) {
	case config.ModeConnect:
		cfg.Mode = config.ModeConnect
		switch len(rest) {
		case 0:
		case 1:
			cfg.HostID = rest[0]
		default:
			return fmt.Errorf("too many arguments for connect")
		}
	case config.ModePlay:
		cfg.Mode = config.ModePlay
		switch len(rest) {
		case 0:
		case 1:
			cfg.RecordingID = rest[0]
		default:
			return fmt.Errorf("too many arguments for play")
		}
	default:
		return fmt.Errorf("unknown command %q (want connect or play)", verb)
	}
	return nil
}

func describe(cfg *config.Config) string {
	switch {
	case cfg.Mode == config.ModeConnect:
		return "connect to host " + cfg.HostID
	case cfg.RecordingFile != "":
		return "play file " + cfg.RecordingFile
	default:
		return "play recording " + cfg.RecordingID
	}
}

// serveMetrics exposes the collector on addr.  It returns the bound
// address and a function that shuts the server down.
func serveMetrics(addr string, c *metrics.Collector, logger *util.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{Handler: c.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server: %v", err)
		}
	}()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.DefaultGracePeriod)
		defer cancel()
		srv.Shutdown(ctx) //nolint:errcheck
	}
	return ln.Addr().String(), stop, nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `hostterm – remote host terminal client v%s

Opens interactive shells on managed hosts and replays recorded sessions.

Usage:
  hostterm [options] connect <hostId>         Interactive shell
  hostterm [options] play <recordingId>       Replay a server recording
  hostterm [options] play --file <path>       Replay a local recording

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Keys:
  connect   Ctrl-]  detach
  play      space   pause/resume
            r       restart
            q       quit

Environment:
  HOSTTERM_SERVER, HOSTTERM_TOKEN, HOSTTERM_TUNNEL, ... (see --config keys);
  a .env file in the working directory is read too.

Examples:
  hostterm -s https://manage.example.com --token $TOKEN connect 42
  hostterm -T ops@bastion.example.com connect 42
  hostterm play 17
  hostterm play --file session.cast
`)
}
