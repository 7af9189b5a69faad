package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultServer         = "http://127.0.0.1:8080"
	DefaultPollInterval   = 2 * time.Second
	DefaultPollTimeout    = 30 * time.Minute
	DefaultRequestTimeout = 30 * time.Second
	DefaultLogLevel       = "info"
)

// Config is the user configuration stored in ~/.forge/config.yaml.
type Config struct {
	// Server is the base URL of the block/task server (without the /api suffix).
	Server string `yaml:"server,omitempty"`

	// PollInterval is the delay between completion checks for an executing task.
	PollInterval time.Duration `yaml:"pollInterval,omitempty"`
	// PollTimeout bounds how long a single task is watched before giving up.
	PollTimeout time.Duration `yaml:"pollTimeout,omitempty"`

	RequestTimeout time.Duration `yaml:"requestTimeout,omitempty"`

	// StateDir holds the offline snapshot. Defaults to the config dir.
	StateDir string `yaml:"stateDir,omitempty"`

	// LogFile is where the TUI writes logs (the terminal belongs to the TUI).
	// Defaults to <config dir>/forge.log.
	LogFile  string `yaml:"logFile,omitempty"`
	LogLevel string `yaml:"logLevel,omitempty"`
}

func Dir() (string, error) {
	if v := strings.TrimSpace(os.Getenv("FORGE_CONFIG_DIR")); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".forge"), nil
}

// Path returns the config file location. FORGE_CONFIG overrides the default.
func Path() (string, error) {
	if v := strings.TrimSpace(os.Getenv("FORGE_CONFIG")); v != "" {
		return v, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Default returns a config with every field populated.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults("")
	return cfg
}

// Load reads the config at path. A missing file yields defaults; a file that
// cannot be parsed is an error. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads the config from Path().
func LoadDefault() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("FORGE_SERVER")); v != "" {
		c.Server = v
	}
	if v := strings.TrimSpace(os.Getenv("FORGE_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) applyDefaults(dir string) {
	if strings.TrimSpace(c.Server) == "" {
		c.Server = DefaultServer
	}
	c.Server = strings.TrimRight(strings.TrimSpace(c.Server), "/")
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if dir == "" {
		if d, err := Dir(); err == nil {
			dir = d
		}
	}
	if c.StateDir == "" {
		c.StateDir = dir
	}
	if c.LogFile == "" && dir != "" {
		c.LogFile = filepath.Join(dir, "forge.log")
	}
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("invalid server %q: %w", c.Server, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server %q: scheme must be http or https", c.Server)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid server %q: missing host", c.Server)
	}
	return nil
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "config.yaml.*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	_ = os.Chmod(tmp, 0o600)
	return os.Rename(tmp, path)
}
