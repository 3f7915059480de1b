package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrscan/inspector"
	"github.com/srg/hrscan/scanner"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
// Precedence: built-in defaults, then the YAML file, then command-line flags.
type Config struct {
	LogLevel     string        `yaml:"log_level" default:"info"`
	LogFormat    string        `yaml:"log_format" default:"text"`    // text, json
	OutputFormat string        `yaml:"output_format" default:"table"` // table, json
	ScanTimeout  time.Duration `yaml:"scan_timeout" default:"30s"`    // how long inspect looks for its device

	Scan    scanner.ScanOptions      `yaml:"scan"`
	Inspect inspector.InspectOptions `yaml:"inspect"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	defaults.SetDefaults(c)
	defaults.SetDefaults(&c.Scan)
	defaults.SetDefaults(&c.Inspect)
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// keys present but empty in the file fall back to defaults
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values the defaults cannot guarantee
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q (want text or json)", c.LogFormat)
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("unsupported output format %q (want table or json)", c.OutputFormat)
	}
	if c.ScanTimeout < 0 || c.Inspect.ConnectTimeout < 0 || c.Inspect.DiscoveryTimeout < 0 || c.Scan.PausePollInterval < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// NewLogger creates a configured logger instance
// An empty LogLevel means info.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level := logrus.InfoLevel
	if c.LogLevel != "" {
		var err error
		if level, err = logrus.ParseLevel(c.LogLevel); err != nil {
			return nil, err
		}
	}

	logger := logrus.New()
	logger.SetLevel(level)

	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	return logger, nil
}
