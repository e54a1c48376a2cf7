package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger
func Init(verbose bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(level)

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05.000",
		NoColor:    false,
	}

	log.Logger = NewLogger(output)
}

// NewLogger creates a new logger with optional writers
func NewLogger(writers ...io.Writer) zerolog.Logger {
	if len(writers) == 0 {
		return log.Logger
	}

	if len(writers) == 1 {
		return zerolog.New(writers[0]).With().Timestamp().Logger()
	}

	multi := zerolog.MultiLevelWriter(writers...)
	return zerolog.New(multi).With().Timestamp().Logger()
}

// WithComponent creates a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// WithSession tags a logger with a preview session id
func WithSession(logger zerolog.Logger, session string) zerolog.Logger {
	return logger.With().Str("session", session).Logger()
}

// Guard runs fn and converts a panic into a logged error, so a single bad
// clip cannot take down a render or mixer loop. It reports whether fn
// completed normally.
func Guard(logger zerolog.Logger, op string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("op", op).
				Err(fmt.Errorf("panic: %v", r)).
				Msg("recovered from panic")
			ok = false
		}
	}()
	fn()
	return true
}
