package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const serviceName = "unxvd"

// LogConfig selects the level and encoding of component loggers.
type LogConfig struct {
	Level   zerolog.Level
	Console bool // human-readable output for local runs
}

// LogConfigFromEnv reads UNXV_LOG_LEVEL (debug|info|warn|error, default info)
// and UNXV_LOG_FORMAT (json|console, default json).
func LogConfigFromEnv() LogConfig {
	return LogConfig{
		Level:   parseLogLevel(os.Getenv("UNXV_LOG_LEVEL")),
		Console: strings.EqualFold(os.Getenv("UNXV_LOG_FORMAT"), "console"),
	}
}

// NewLogger creates a component logger writing to stdout, configured from
// the environment. Every line carries service and component fields.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, component, LogConfigFromEnv())
}

// NewLoggerTo creates a component logger writing to w.
func NewLoggerTo(w io.Writer, component string, cfg LogConfig) zerolog.Logger {
	if cfg.Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(cfg.Level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("component", component).
		Logger()
}

// ForMarket scopes l to one market.
func ForMarket(l zerolog.Logger, marketID string) zerolog.Logger {
	return l.With().Str("market_id", marketID).Logger()
}

func parseLogLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
