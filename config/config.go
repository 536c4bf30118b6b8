// Package config defines the runtime configuration for hostterm and
// provides helpers for parsing bastion tunnel specifications.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	herr "hostterm/internal/errors"
)

// Mode selects what a hostterm invocation does.
type Mode string

const (
	ModeConnect Mode = "connect" // interactive shell on a managed host
	ModePlay    Mode = "play"    // replay a recording
)

// Config holds every tuneable for a single hostterm run.
type Config struct {
	// ── Backend ──────────────────────────────────────────────────────
	ServerOrigin string        `yaml:"server"`
	Credential   string        `yaml:"token"`
	Timeout      time.Duration `yaml:"timeout"` // per API request

	// ── Invocation ───────────────────────────────────────────────────
	Mode          Mode   `yaml:"-"`
	HostID        string `yaml:"-"`
	RecordingID   string `yaml:"-"`
	RecordingFile string `yaml:"-"`

	// ── Playback ─────────────────────────────────────────────────────
	PollInterval  time.Duration `yaml:"poll_interval"`
	RestartGrace  time.Duration `yaml:"restart_grace"`
	RecordingsDir string        `yaml:"recordings_dir"`

	// ── SSH bastion ──────────────────────────────────────────────────
	TunnelSpec     string `yaml:"tunnel"` // raw [user@]host[:port]
	TunnelEnabled  bool   `yaml:"-"`
	TunnelUser     string `yaml:"-"`
	TunnelHost     string `yaml:"-"`
	TunnelPort     int    `yaml:"-"`
	SSHKeyPath     string `yaml:"ssh_key"`
	SSHPassword    bool   `yaml:"ssh_password"` // true → prompt interactively
	UseSSHAgent    bool   `yaml:"ssh_agent"`
	StrictHostKey  bool   `yaml:"strict_hostkey"`
	KnownHostsPath string `yaml:"known_hosts"`

	// ── Output ───────────────────────────────────────────────────────
	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     int    `yaml:"verbose"`
	DryRun      bool   `yaml:"-"`
	ConfigFile  string `yaml:"-"`
}

// Defaults returns a Config populated from defaults.go.
func Defaults() *Config {
	return &Config{
		ServerOrigin: DefaultServerOrigin,
		Timeout:      DefaultRequestTimeout,
		PollInterval: DefaultPollInterval,
		RestartGrace: DefaultRestartGrace,
		Verbose:      DefaultVerbosity,
	}
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ResolveTunnel parses TunnelSpec into the Tunnel* fields.  An empty
// spec disables the bastion.
func (c *Config) ResolveTunnel() error {
	if c.TunnelSpec == "" {
		c.TunnelEnabled = false
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &herr.ConfigError{
			Field:   "tunnel",
			Value:   c.TunnelSpec,
			Message: err.Error(),
			Hint:    "use --tunnel user@bastion.example.com:22",
		}
	}
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Failures are *errors.ConfigError values carrying a hint.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeConnect:
		if c.HostID == "" {
			return &herr.ConfigError{
				Field:   "host",
				Message: "connect needs a host id",
				Hint:    "hostterm connect <hostId>",
			}
		}
	case ModePlay:
		if c.RecordingID == "" && c.RecordingFile == "" {
			return &herr.ConfigError{
				Field:   "file",
				Message: "play needs a recording id or a file",
				Hint:    "hostterm play <recordingId> or hostterm play --file session.cast",
			}
		}
		if c.RecordingID != "" && c.RecordingFile != "" {
			return &herr.ConfigError{
				Field:   "file",
				Value:   c.RecordingFile,
				Message: "a recording id and --file are mutually exclusive",
			}
		}
	default:
		return &herr.ConfigError{
			Field:   "mode",
			Value:   c.Mode,
			Message: "unknown command",
			Hint:    "use connect or play",
		}
	}

	if c.needsServer() {
		if err := validateOrigin(c.ServerOrigin); err != nil {
			return err
		}
	}

	if c.Timeout <= 0 {
		return &herr.ConfigError{Field: "timeout", Value: c.Timeout, Message: "must be positive"}
	}
	if c.PollInterval <= 0 {
		return &herr.ConfigError{Field: "poll-interval", Value: c.PollInterval, Message: "must be positive"}
	}
	if c.RestartGrace < 0 {
		return &herr.ConfigError{Field: "restart-grace", Value: c.RestartGrace, Message: "must not be negative"}
	}

	if c.TunnelEnabled {
		if c.TunnelHost == "" {
			return &herr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
		}
		if !c.needsServer() {
			return &herr.ConfigError{
				Field:   "tunnel",
				Value:   c.TunnelSpec,
				Message: "a bastion is only used to reach the server",
				Hint:    "drop --tunnel when playing a local file",
			}
		}
	}

	if c.Verbose < 0 {
		return &herr.ConfigError{Field: "verbose", Value: c.Verbose, Message: "must not be negative"}
	}
	return nil
}

// needsServer reports whether the run talks to the backend at all.
func (c *Config) needsServer() bool {
	return c.Mode == ModeConnect || c.RecordingFile == ""
}

func validateOrigin(origin string) error {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &herr.ConfigError{
			Field:   "server",
			Value:   origin,
			Message: "must be an http or https origin",
			Hint:    "e.g. --server https://manage.example.com",
		}
	}
	return nil
}
