package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hrscan/pkg/config"
)

// lockedWriter serializes writes to stderr, which the logger and the progress
// line share
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// loadSettings reads --config and applies --log-level on top of it.
// Without either flag the logger stays at panic level, so normal runs only
// print command output. Logs go to stderr.
func loadSettings(cmd *cobra.Command, stderr io.Writer) (*config.Config, *logrus.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		switch logLevelStr {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = logLevelStr
		default:
			return nil, nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	if logLevelStr == "" && configPath == "" {
		logger.SetLevel(logrus.PanicLevel)
	}
	logger.SetOutput(stderr)

	return cfg, logger, nil
}
