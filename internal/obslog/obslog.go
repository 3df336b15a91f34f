// Package obslog builds the engine-wide structured logger: every
// component logs through github.com/rs/zerolog. A single Logger,
// configured here, is injected into the Engine at construction and
// threaded down into the Dispatcher, Context, and Channel so every log
// line can be correlated by (pid, nid).
package obslog

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing structured JSON to stderr at the
// given level (debug|info|warn|error; anything else falls back to
// info, same tolerant parsing as the rest of the config loaders).
func New(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stderr).Level(parseLevel(level)).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything, for tests and
// embedders who wire their own sink instead.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func parseLevel(level string) zerolog.Level {
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
