// Package logger wraps zerolog with the broker's closed set of severity
// tags (spec §3: http, control, security, server, error) so call sites
// record the tag alongside the message instead of re-deriving it from the
// call site's package.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Tag is one of the closed severity tags an observability record may carry.
type Tag string

const (
	TagHTTP     Tag = "http"
	TagControl  Tag = "control"
	TagSecurity Tag = "security"
	TagServer   Tag = "server"
	TagError    Tag = "error"
)

func init() {
	SetSilentMode(true)
}

// SetSilentMode configures whether logging should be silent or output to stderr.
func SetSilentMode(silent bool) {
	var output io.Writer
	if silent {
		output = io.Discard
	} else {
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}
	}

	logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// New returns the package logger.
func New() zerolog.Logger {
	return logger
}

// SetLevel sets the global log level.
func SetLevel(level string) {
	switch level {
	case LevelDebug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case LevelInfo:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case LevelWarn:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case LevelError:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// HTTP logs an admission or ingress event.
func HTTP(msg string) {
	logger.Info().Str("tag", string(TagHTTP)).Msg(msg)
}

// Control logs a control-channel session event.
func Control(msg string) {
	logger.Info().Str("tag", string(TagControl)).Msg(msg)
}

// Security logs an adversarial or rejected-admission event.
func Security(msg string) {
	logger.Warn().Str("tag", string(TagSecurity)).Msg(msg)
}

// Server logs a lifecycle event (startup, shutdown, configuration).
func Server(msg string) {
	logger.Info().Str("tag", string(TagServer)).Msg(msg)
}

// Errorf logs a failure, attaching the causing error.
func Errorf(err error, msg string) {
	logger.Error().Str("tag", string(TagError)).Err(err).Msg(msg)
}

// Debug logs a debug-level message with no severity tag.
func Debug(msg string) {
	logger.Debug().Msg(msg)
}
