package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/texshare"
	"github.com/gogpu/texshare/metrics"
)

// Config is the CLI configuration file.
type Config struct {
	Dir         string      `yaml:"dir,omitempty"`
	Slots       int         `yaml:"slots,omitempty"`
	Backend     string      `yaml:"backend,omitempty"`
	LogLevel    string      `yaml:"log_level,omitempty"`
	LogFormat   string      `yaml:"log_format,omitempty"`
	MetricsAddr string      `yaml:"metrics_addr,omitempty"`
	Watch       WatchConfig `yaml:"watch"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `yaml:"-"`

	metrics *metrics.Metrics
}

// WatchConfig tunes the connection state machine of watch and mux.
type WatchConfig struct {
	SearchInterval time.Duration `yaml:"search_interval"`
	Backoff        time.Duration `yaml:"backoff"`
	WaitTimeout    time.Duration `yaml:"wait_timeout"`
	MaxTimeouts    int           `yaml:"max_timeouts"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Watch: WatchConfig{
			SearchInterval: texshare.DefaultSearchInterval,
			Backoff:        texshare.DefaultBackoff,
			WaitTimeout:    texshare.DefaultWaitTimeout,
			MaxTimeouts:    texshare.DefaultMaxTimeouts,
		},
	}
}

// DefaultConfigPath returns the config file location in the user config
// directory.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "texshare", "config.yaml"), nil
}

// LoadConfig reads path over the defaults. With an empty path the default
// location is tried, and a missing default file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		p, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Slots < 0:
		return fmt.Errorf("slots must not be negative")
	case c.Watch.SearchInterval < 0, c.Watch.Backoff < 0, c.Watch.WaitTimeout < 0:
		return fmt.Errorf("watch durations must not be negative")
	case c.Watch.MaxTimeouts < 0:
		return fmt.Errorf("watch.max_timeouts must not be negative")
	}
	return nil
}

// options returns the library options for the configuration.
func (c *Config) options() []texshare.Option {
	opts := []texshare.Option{texshare.WithSlots(c.Slots)}
	if c.Dir != "" {
		opts = append(opts, texshare.WithDir(c.Dir))
	}
	if c.metrics != nil {
		opts = append(opts, texshare.WithMetrics(c.metrics))
	}
	return opts
}

// watcherConfig returns the state machine settings for a watcher named name.
func (c *Config) watcherConfig(name string, sel texshare.Selector) texshare.WatcherConfig {
	return texshare.WatcherConfig{
		Name:           name,
		SearchInterval: c.Watch.SearchInterval,
		Backoff:        c.Watch.Backoff,
		WaitTimeout:    c.Watch.WaitTimeout,
		MaxTimeouts:    c.Watch.MaxTimeouts,
		Selector:       sel,
	}
}
