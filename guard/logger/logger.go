// Package logger builds the guard's root zerolog logger from its configuration.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushchain/bridge-guard/guard/config"
)

// Init creates the root logger writing to stdout.
func Init(cfg config.Config) zerolog.Logger {
	return New(os.Stdout, cfg)
}

// New creates a logger writing to w with the configured format, level and sampling. Every entry
// carries the guard's index so logs of several guards can be merged.
func New(w io.Writer, cfg config.Config) zerolog.Logger {
	if cfg.LogFormat != "json" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(w).
		Level(zerolog.Level(cfg.LogLevel)).
		With().
		Timestamp().
		Int("guard_index", cfg.GuardIndex).
		Logger()

	if cfg.LogSampler {
		logger = logger.Sample(&zerolog.BasicSampler{N: 5})
	}
	return logger
}
