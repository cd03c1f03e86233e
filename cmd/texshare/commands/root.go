package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gogpu/texshare"
	"github.com/gogpu/texshare/backend"
	_ "github.com/gogpu/texshare/backend/host"
	_ "github.com/gogpu/texshare/backend/wgpu"
)

var (
	// Global flags
	configPath  string
	dirFlag     string
	slotsFlag   int
	backendFlag string
	logLevel    string
	logFormat   string
	verbose     bool

	// Configuration after flag overrides, set by loadConfig
	globalConfig *Config
)

var rootCmd = &cobra.Command{
	Use:   "texshare",
	Short: "Share GPU textures between processes",
	Long: `texshare - broadcast and consume GPU textures across processes.

Producers publish named streams in a registry directory shared by all
participants. Consumers discover streams by process id and name and read
frames as producers signal them.

The registry directory defaults to $TEXSHARE_DIR, else
$XDG_RUNTIME_DIR/texshare. Settings are read from a YAML file:
  Linux:   ~/.config/texshare/config.yaml
  macOS:   ~/Library/Application Support/texshare/config.yaml

Examples:
  # Broadcast a test pattern
  texshare produce --name bars

  # List streams
  texshare list

  # Follow the first stream and serve metrics
  texshare watch --metrics-addr :9464`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "config file (default is the user config dir)")
	f.StringVar(&dirFlag, "dir", "", "registry directory")
	f.IntVar(&slotsFlag, "slots", 0, "slot count when creating the registry")
	f.StringVar(&backendFlag, "backend", "", "device backend: "+strings.Join(backend.Available(), ", ")+" (default: best available)")
	f.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&logFormat, "log-format", "", "log format: text, json")
	f.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("dir") {
		cfg.Dir = dirFlag
	}
	if flags.Changed("slots") {
		cfg.Slots = slotsFlag
	}
	if flags.Changed("backend") {
		cfg.Backend = backendFlag
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if verbose && !flags.Changed("log-level") {
		cfg.LogLevel = "debug"
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	texshare.SetLogger(logger)
	slog.SetDefault(logger)
	globalConfig = cfg
	return nil
}

// GetConfig returns the configuration of the running command.
func GetConfig() *Config {
	if globalConfig == nil {
		return DefaultConfig()
	}
	return globalConfig
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q", level)
		}
	} else {
		lvl = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}

// openDevice opens the configured backend and a device on the registry.
func openDevice(cfg *Config, opts ...texshare.Option) (*texshare.Device, error) {
	var (
		b   backend.Backend
		err error
	)
	if cfg.Backend != "" {
		b, err = backend.Open(cfg.Backend)
	} else {
		b, err = backend.Default()
	}
	if err != nil {
		return nil, err
	}
	dev, err := texshare.NewDevice(b, append(cfg.options(), opts...)...)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	slog.Debug("device opened", "backend", b.Name(), "dir", dev.Dir())
	return dev, nil
}

// closeDevice closes the device and its backend.
func closeDevice(dev *texshare.Device) {
	if err := dev.Close(); err != nil {
		slog.Warn("close device", "error", err)
	}
	if err := dev.Backend().Close(); err != nil {
		slog.Warn("close backend", "error", err)
	}
}
