package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bpclient/bpclient-go/pkg/client"
	"github.com/bpclient/bpclient-go/pkg/connection"
)

// Config holds bpctl settings. Values are layered: defaults, then the
// YAML file named by --config, then BPCTL_* environment variables, then
// flags given on the command line.
type Config struct {
	URL              string                   `yaml:"url"`
	Discover         bool                     `yaml:"discover"`
	Interface        string                   `yaml:"interface"`
	ClientName       string                   `yaml:"client_name"`
	HandshakeTimeout time.Duration            `yaml:"handshake_timeout"`
	ProbeTimeout     time.Duration            `yaml:"probe_timeout"`
	ConnectAttempts  int                      `yaml:"connect_attempts"`
	Reconnect        bool                     `yaml:"reconnect"`
	Backoff          connection.BackoffConfig `yaml:"backoff"`
	ScanTime         time.Duration            `yaml:"scan_time"`
	LogLevel         string                   `yaml:"log_level"`
	LogFormat        string                   `yaml:"log_format"`
	ProtocolLog      string                   `yaml:"protocol_log"`
	MetricsAddr      string                   `yaml:"metrics_addr"`
	Interactive      bool                     `yaml:"interactive"`
}

// envConfig is the subset of Config that may come from the environment.
// Empty values leave the file or default value in place.
type envConfig struct {
	URL         string `env:"BPCTL_URL"`
	ClientName  string `env:"BPCTL_CLIENT_NAME"`
	LogLevel    string `env:"BPCTL_LOG_LEVEL"`
	LogFormat   string `env:"BPCTL_LOG_FORMAT"`
	ProtocolLog string `env:"BPCTL_PROTOCOL_LOG"`
	MetricsAddr string `env:"BPCTL_METRICS_ADDR"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	cc := client.DefaultConfig()
	return Config{
		ClientName:       "bpctl",
		HandshakeTimeout: cc.HandshakeTimeout,
		ConnectAttempts:  5,
		Backoff:          cc.Backoff,
		ScanTime:         5 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
		Interactive:      true,
	}
}

// loadConfig builds the configuration from args and the environment.
func loadConfig(args []string) (Config, error) {
	cfg := DefaultConfig()

	fs := flag.NewFlagSet("bpctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	fs.StringVar(&cfg.URL, "url", cfg.URL, "Server WebSocket URL (e.g. ws://127.0.0.1:12345)")
	fs.BoolVar(&cfg.Discover, "discover", cfg.Discover, "Find the server via mDNS when no URL is given")
	fs.StringVar(&cfg.Interface, "interface", cfg.Interface, "Network interface for mDNS discovery")
	fs.StringVar(&cfg.ClientName, "name", cfg.ClientName, "Client name announced in the handshake")
	fs.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "Handshake timeout")
	fs.DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "Keep-alive probe timeout (0 = session bound)")
	fs.IntVar(&cfg.ConnectAttempts, "attempts", cfg.ConnectAttempts, "Connect attempts before giving up (0 = unlimited)")
	fs.BoolVar(&cfg.Reconnect, "reconnect", cfg.Reconnect, "Reconnect after a session fault")
	fs.DurationVar(&cfg.ScanTime, "scan-time", cfg.ScanTime, "Scan duration in non-interactive mode")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	fs.StringVar(&cfg.ProtocolLog, "protocol-log", cfg.ProtocolLog, "Write protocol events to this file (CBOR)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")
	fs.BoolVarP(&cfg.Interactive, "interactive", "i", cfg.Interactive, "Run the interactive shell")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// Flags have been written into cfg already. Rebuild the lower layers
	// and re-apply only the flags the user set.
	flagged := cfg
	cfg = DefaultConfig()

	if *configPath != "" {
		if err := loadFile(*configPath, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := loadEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyFlags(fs, &cfg, flagged)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) error {
	var env envConfig
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("environment: %w", err)
	}
	overlay := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	overlay(&cfg.URL, env.URL)
	overlay(&cfg.ClientName, env.ClientName)
	overlay(&cfg.LogLevel, env.LogLevel)
	overlay(&cfg.LogFormat, env.LogFormat)
	overlay(&cfg.ProtocolLog, env.ProtocolLog)
	overlay(&cfg.MetricsAddr, env.MetricsAddr)
	return nil
}

// applyFlags copies every explicitly set flag from flagged into cfg.
func applyFlags(fs *flag.FlagSet, cfg *Config, flagged Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			cfg.URL = flagged.URL
		case "discover":
			cfg.Discover = flagged.Discover
		case "interface":
			cfg.Interface = flagged.Interface
		case "name":
			cfg.ClientName = flagged.ClientName
		case "handshake-timeout":
			cfg.HandshakeTimeout = flagged.HandshakeTimeout
		case "probe-timeout":
			cfg.ProbeTimeout = flagged.ProbeTimeout
		case "attempts":
			cfg.ConnectAttempts = flagged.ConnectAttempts
		case "reconnect":
			cfg.Reconnect = flagged.Reconnect
		case "scan-time":
			cfg.ScanTime = flagged.ScanTime
		case "log-level":
			cfg.LogLevel = flagged.LogLevel
		case "log-format":
			cfg.LogFormat = flagged.LogFormat
		case "protocol-log":
			cfg.ProtocolLog = flagged.ProtocolLog
		case "metrics-addr":
			cfg.MetricsAddr = flagged.MetricsAddr
		case "interactive":
			cfg.Interactive = flagged.Interactive
		}
	})
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Interactive && c.URL == "" && !c.Discover {
		return errors.New("non-interactive mode needs --url or --discover")
	}
	if c.ConnectAttempts < 0 {
		return fmt.Errorf("attempts must not be negative: %d", c.ConnectAttempts)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s (use text or json)", c.LogFormat)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %s (use debug, info, warn, error)", s)
	}
}

// newLogger builds the operational logger writing to w.
func newLogger(cfg Config, w io.Writer) *slog.Logger {
	level, _ := parseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// clientConfig maps bpctl settings onto a client configuration.
func (c *Config) clientConfig() client.Config {
	cc := client.DefaultConfig()
	cc.ClientName = c.ClientName
	cc.HandshakeTimeout = c.HandshakeTimeout
	cc.ProbeTimeout = c.ProbeTimeout
	cc.Backoff = c.Backoff
	return cc
}
