package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance
var Log zerolog.Logger

func init() {
	Setup("info")
}

// New builds a logger writing to out at the given level.
// JSON output is used when APP_ENV=production, console output otherwise.
func New(out io.Writer, level string) zerolog.Logger {
	if os.Getenv("APP_ENV") != "production" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// Setup replaces the global logger, typically once the configuration is loaded.
func Setup(level string) {
	out := io.Writer(os.Stdout)
	if os.Getenv("APP_ENV") != "production" {
		out = os.Stderr
	}
	Log = New(out, level)
}

// ParseLevel maps a config level name to a zerolog level. Unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// GetLogger returns the global logger instance
func GetLogger() zerolog.Logger {
	return Log
}
