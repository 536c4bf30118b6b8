package config

// loader.go - configuration loading from files and the environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (HOSTTERM_*)
//   3. .env file  (never overrides variables already set)
//   4. YAML file  (--config or HOSTTERM_CONFIG)
//   5. Defaults   (defaults.go)

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Load applies the YAML file, the dotenv file and the environment to
// cfg in precedence order.  file may be empty.
func Load(cfg *Config, file string) error {
	if file == "" {
		file = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if file != "" {
		if err := LoadFile(cfg, file); err != nil {
			return err
		}
		cfg.ConfigFile = file
	}
	if err := LoadDotEnv(); err != nil {
		return err
	}
	return LoadFromEnv(cfg)
}

// ── YAML file ────────────────────────────────────────────────────────

// LoadFile overlays the YAML document at path onto cfg.  Keys not set
// in the file keep their current value; unknown keys are an error.
func LoadFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// ── dotenv ───────────────────────────────────────────────────────────

// LoadDotEnv exports the variables of the given dotenv files (default
// ".env") into the process environment.  Variables already set win.
// A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{DefaultDotEnv}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("dotenv %s: %w", p, err)
		}
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the HOSTTERM_ prefix.  Boolean values
// accept anything strconv.ParseBool does.

// envOverlay mirrors the environment-settable subset of Config.  Zero
// values mean "not set" and leave cfg untouched.
type envOverlay struct {
	Server        string        `envconfig:"SERVER"`
	Token         string        `envconfig:"TOKEN"`
	Timeout       time.Duration `envconfig:"TIMEOUT"`
	PollInterval  time.Duration `envconfig:"POLL_INTERVAL"`
	RestartGrace  time.Duration `envconfig:"RESTART_GRACE"`
	RecordingsDir string        `envconfig:"RECORDINGS_DIR"`

	Tunnel        string `envconfig:"TUNNEL"`
	SSHKey        string `envconfig:"SSH_KEY"`
	SSHPassword   bool   `envconfig:"SSH_PASSWORD"`
	SSHAgent      bool   `envconfig:"SSH_AGENT"`
	StrictHostKey bool   `envconfig:"STRICT_HOSTKEY"`
	KnownHosts    string `envconfig:"KNOWN_HOSTS"`

	MetricsAddr string `envconfig:"METRICS_ADDR"`
	Verbose     int    `envconfig:"VERBOSE"`
}

// LoadFromEnv overlays HOSTTERM_* environment variables onto cfg.
// Only variables that are set override the existing value.  A value
// that does not parse is an error.
func LoadFromEnv(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	setString(&cfg.ServerOrigin, env.Server)
	setString(&cfg.Credential, env.Token)
	setDuration(&cfg.Timeout, env.Timeout)
	setDuration(&cfg.PollInterval, env.PollInterval)
	setDuration(&cfg.RestartGrace, env.RestartGrace)
	setString(&cfg.RecordingsDir, env.RecordingsDir)

	setString(&cfg.TunnelSpec, env.Tunnel)
	setString(&cfg.SSHKeyPath, env.SSHKey)
	setBool(&cfg.SSHPassword, env.SSHPassword)
	setBool(&cfg.UseSSHAgent, env.SSHAgent)
	setBool(&cfg.StrictHostKey, env.StrictHostKey)
	setString(&cfg.KnownHostsPath, env.KnownHosts)

	setString(&cfg.MetricsAddr, env.MetricsAddr)
	if env.Verbose > 0 {
		cfg.Verbose = env.Verbose
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst *bool, v bool) {
	if v {
		*dst = true
	}
}
