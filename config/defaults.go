package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultServerOrigin is used when no --server is configured.
	DefaultServerOrigin = "http://localhost:8080"

	// DefaultRequestTimeout bounds each API request.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultPollInterval is how often a paused replay checks for resume.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultRestartGrace separates stop and play during a restart.
	DefaultRestartGrace = 100 * time.Millisecond

	// DefaultVerbosity prints warnings and errors.
	DefaultVerbosity = 1

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout is the SSH bastion connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultMaxReconnectAttempts is how many times to retry a bastion
	// connect before giving up.
	DefaultMaxReconnectAttempts = 5

	// DefaultMaxReconnectBackoff caps the exponential backoff between
	// bastion connection attempts.
	DefaultMaxReconnectBackoff = 30 * time.Second

	// DefaultGracePeriod is how long the metrics server gets to drain.
	DefaultGracePeriod = 5 * time.Second

	// EnvPrefix prefixes every environment variable hostterm reads.
	EnvPrefix = "HOSTTERM"

	// DefaultDotEnv is the optional dotenv file read from the working
	// directory.
	DefaultDotEnv = ".env"
)
