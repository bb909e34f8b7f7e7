// Package logging configures the process logger and persists session
// transitions for later inspection and replay.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// #region config
// Config selects the log level and output format (json or console).
type Config struct {
	Level  string    `yaml:"level"`
	Format string    `yaml:"format"`
	Output io.Writer `yaml:"-"`
}

// DefaultConfig logs info and above as JSON to stderr.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json", Output: os.Stderr}
}
// #endregion config

// #region init
// New builds a logger from cfg and sets the zerolog global level.
func New(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := cfg.Output
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
// #endregion init
