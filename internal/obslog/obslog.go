// Package obslog configures the structured logger shared by every DBX
// package that needs to report an operational event (a flush starting,
// a WAL segment rotating, recovery discarding a torn tail).
//
// Grounded on cuemby-warren's pkg/log (log.go): a package-level
// zerolog.Logger, an Init(Config) that selects JSON vs. console output
// and a level, and WithComponent-style child loggers carrying a
// structured field rather than embedding the component name in the
// message text.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Packages that need to log call
// obslog.Component(name) rather than using Logger directly, so every log
// line carries a "component" field identifying its source tier.
var Logger zerolog.Logger

// Level mirrors cuemby-warren's string-based level selection, kept as
// strings rather than zerolog.Level so internal/config can decode it
// straight out of a config file or environment variable.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config selects the logger's verbosity and output shape.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init installs the process-wide Logger. Safe to call once at engine
// open; packages that logged before Init was called fall back to
// zerolog's zero-value no-op logger rather than panicking.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// Component returns a child logger tagging every line with the given
// storage tier or subsystem name ("wal", "delta", "compaction", ...).
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Table further scopes a component logger to a single table, used by
// per-table operations like flush and compaction.
func Table(component zerolog.Logger, table string) zerolog.Logger {
	return component.With().Str("table", table).Logger()
}
