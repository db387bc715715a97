// Package logging provides the engine's structured logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	base = New("info")
}

// New builds a logger at the given level, splitting output between
// stdout (debug/info/warn) and stderr (error/fatal/panic).
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	writer := zerolog.MultiLevelWriter(
		specificLevelWriter{
			Writer: zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			},
			levels: []zerolog.Level{
				zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel,
			},
		},
		specificLevelWriter{
			Writer: zerolog.ConsoleWriter{
				Out: os.Stderr,
			},
			levels: []zerolog.Level{
				zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel,
			},
		},
	)

	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}

// SetLevel reconfigures the package-level base logger.
func SetLevel(level string) {
	base = New(level)
}

// Component returns a sub-logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// Base returns the package-level logger.
func Base() zerolog.Logger {
	return base
}

// multilevel writer trick from https://stackoverflow.com/questions/76858037/how-to-use-zerolog-to-filter-info-logs-to-stdout-and-error-logs-to-stderr
type specificLevelWriter struct {
	io.Writer
	levels []zerolog.Level
}

func (w specificLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	for _, l := range w.levels {
		if l == level {
			return w.Write(p)
		}
	}
	return len(p), nil
}
