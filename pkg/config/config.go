package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/igorsilveira/warden/pkg/sandbox"
)

type Config struct {
	Shell   ShellConfig   `toml:"shell"`
	Remote  RemoteConfig  `toml:"remote"`
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
	Tracing TracingConfig `toml:"tracing"`
	Audit   AuditConfig   `toml:"audit"`

	// Path is the file the config was loaded from, if any.
	Path string `toml:"-"`
}

type ShellConfig struct {
	Backend        string            `toml:"backend"`
	Isolation      string            `toml:"isolation"`
	Restrictions   string            `toml:"restrictions"`
	Disabled       bool              `toml:"disabled"`
	Interpreter    string            `toml:"interpreter"`
	GracePeriod    string            `toml:"grace_period"`
	DrainTimeout   string            `toml:"drain_timeout"`
	MaxOutput      string            `toml:"max_output"`
	AllowedDirs    []string          `toml:"allowed_dirs"`
	SensitivePaths []string          `toml:"sensitive_paths"`
	Limits         map[string]string `toml:"limits"`
	Bwrap          BwrapConfig       `toml:"bwrap"`
	Container      ContainerConfig   `toml:"container"`
}

type BwrapConfig struct {
	Path string `toml:"path"`
}

type ContainerConfig struct {
	Runtime string `toml:"runtime"`
	Image   string `toml:"image"`
}

type RemoteConfig struct {
	URL       string `toml:"url"`
	APIKeyEnv string `toml:"api_key_env"`
	Timeout   string `toml:"timeout"`
}

type ServerConfig struct {
	Bind         string `toml:"bind"`
	Port         int    `toml:"port"`
	AuthTokenEnv string `toml:"auth_token_env"`
	Floor        string `toml:"floor"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

type TracingConfig struct {
	Enabled     bool    `toml:"enabled"`
	Endpoint    string  `toml:"endpoint"`
	Insecure    bool    `toml:"insecure"`
	SampleRatio float64 `toml:"sample_ratio"`
}

type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	DSN     string `toml:"dsn"`
}

const (
	BackendLocal  = "local"
	BackendRemote = "remote"

	IsolationNone      = "none"
	IsolationBwrap     = "bwrap"
	IsolationContainer = "container"
)

func Default() *Config {
	return &Config{
		Shell: ShellConfig{
			Backend:      BackendLocal,
			Isolation:    IsolationNone,
			Restrictions: "none",
			Interpreter:  "/bin/sh",
			GracePeriod:  "2s",
			DrainTimeout: "2s",
			MaxOutput:    "8MB",
			SensitivePaths: []string{
				"/etc/shadow",
				"/etc/sudoers",
				"/root/.ssh",
			},
			Limits: map[string]string{
				sandbox.LimitWallTime: "180s",
			},
			Container: ContainerConfig{
				Image: "alpine:3",
			},
		},
		Remote: RemoteConfig{
			APIKeyEnv: "WARDEN_API_KEY",
			Timeout:   "5m",
		},
		Server: ServerConfig{
			Bind:         "loopback",
			Port:         18790,
			AuthTokenEnv: "WARDEN_AUTH_TOKEN",
			Floor:        "none",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Audit: AuditConfig{
			DSN: filepath.Join(DataDir(), "audit.db"),
		},
	}
}

var (
	current *Config
	mu      sync.RWMutex
)

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Path = path

	if cfg.Audit.DSN == "" {
		cfg.Audit.DSN = filepath.Join(DataDir(), "audit.db")
	}
	if abs, err := filepath.Abs(path); err == nil && !slices.Contains(cfg.Shell.SensitivePaths, abs) {
		cfg.Shell.SensitivePaths = append(cfg.Shell.SensitivePaths, abs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file: %w", err)
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg, nil
}

func Current() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Default()
	}
	return current
}

// Validate checks every value that is parsed lazily elsewhere, so a bad
// file fails at startup instead of on the first command.
func (c *Config) Validate() error {
	var errs []error

	switch c.Shell.Backend {
	case BackendLocal:
	case BackendRemote:
		if c.Remote.URL == "" {
			errs = append(errs, errors.New("remote.url is required for the remote backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("shell.backend %q: want local or remote", c.Shell.Backend))
	}

	switch c.Shell.Isolation {
	case IsolationNone, IsolationBwrap, IsolationContainer:
	default:
		errs = append(errs, fmt.Errorf("shell.isolation %q: want none, bwrap or container", c.Shell.Isolation))
	}

	if _, err := c.Restrictions(); err != nil {
		errs = append(errs, fmt.Errorf("shell.restrictions: %w", err))
	}
	if _, err := c.ServerFloor(); err != nil {
		errs = append(errs, fmt.Errorf("server.floor: %w", err))
	}
	if _, err := c.Limits(); err != nil {
		errs = append(errs, fmt.Errorf("shell.limits: %w", err))
	}
	if _, err := c.MaxOutputBytes(); err != nil {
		errs = append(errs, fmt.Errorf("shell.max_output: %w", err))
	}

	for name, v := range map[string]string{
		"shell.grace_period":  c.Shell.GracePeriod,
		"shell.drain_timeout": c.Shell.DrainTimeout,
		"remote.timeout":      c.Remote.Timeout,
	} {
		if _, err := parseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio %v: want 0..1", c.Tracing.SampleRatio))
	}

	return errors.Join(errs...)
}

func (c *Config) Restrictions() (sandbox.Restriction, error) {
	return sandbox.ParseRestriction(c.Shell.Restrictions)
}

func (c *Config) ServerFloor() (sandbox.Restriction, error) {
	return sandbox.ParseRestriction(c.Server.Floor)
}

func (c *Config) Limits() (sandbox.Limits, error) {
	return sandbox.ParseLimits(c.Shell.Limits)
}

func (c *Config) MaxOutputBytes() (int64, error) {
	if c.Shell.MaxOutput == "" {
		return 0, nil
	}
	l, err := sandbox.ParseLimits(map[string]string{sandbox.LimitOutput: c.Shell.MaxOutput})
	if err != nil {
		return 0, err
	}
	return l.Output, nil
}

func (c *Config) GracePeriod() time.Duration {
	d, _ := parseDuration(c.Shell.GracePeriod)
	return d
}

func (c *Config) DrainTimeout() time.Duration {
	d, _ := parseDuration(c.Shell.DrainTimeout)
	return d
}

func (c *Config) RemoteTimeout() time.Duration {
	d, _ := parseDuration(c.Remote.Timeout)
	return d
}

// parseDuration accepts an empty string as zero, meaning the built-in
// default.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func DataDir() string {
	if dir := os.Getenv("WARDEN_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warden"
	}
	return filepath.Join(home, ".warden")
}

func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "warden.toml")
}

func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0700)
}
