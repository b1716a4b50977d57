// Package logger provides a thin, opinionated wrapper around zerolog used by
// every TickerPulse subsystem for structured, component-tagged logging.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how the root logger is constructed.
type Config struct {
	Level  string // debug, info, warn, error (default: info)
	Pretty bool   // human-readable console output instead of JSON
}

// New builds a root zerolog.Logger from Config. Callers derive component
// loggers from it with log.With().Str("component", name).Logger().
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var w = os.Stdout
	if cfg.Pretty {
		console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		return zerolog.New(console).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}
