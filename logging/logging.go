// Package logging adapts zerolog to the commbus Logger protocol.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jason-automation/jason-core/commbus"
)

// New creates a zerolog-backed logger writing console output to w.
// level accepts the zerolog level names; unknown values fall back to info.
func New(w io.Writer, level string) commbus.Logger {
	if w == nil {
		w = os.Stderr
	}

	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	zl := zerolog.New(zerolog.ConsoleWriter{Out: w}).
		Level(parsed).
		With().Timestamp().Logger()

	return &zerologAdapter{zl: zl}
}

// Component creates a logger bound with a component identifier.
// Uses the "cmp" key for consistency with zerolog conventions.
func Component(base commbus.Logger, name string) commbus.Logger {
	return base.Bind("cmp", name)
}

// zerologAdapter implements commbus.Logger over a zerolog.Logger.
type zerologAdapter struct {
	zl zerolog.Logger
}

func (a *zerologAdapter) Debug(msg string, fields ...any) {
	a.emit(a.zl.Debug(), msg, fields)
}

func (a *zerologAdapter) Info(msg string, fields ...any) {
	a.emit(a.zl.Info(), msg, fields)
}

func (a *zerologAdapter) Warn(msg string, fields ...any) {
	a.emit(a.zl.Warn(), msg, fields)
}

func (a *zerologAdapter) Error(msg string, fields ...any) {
	a.emit(a.zl.Error(), msg, fields)
}

// Bind returns a child logger with the key/value pairs attached to every event.
func (a *zerologAdapter) Bind(fields ...any) commbus.Logger {
	ctx := a.zl.With()
	for key, value := range pairs(fields) {
		ctx = ctx.Interface(key, value)
	}
	return &zerologAdapter{zl: ctx.Logger()}
}

func (a *zerologAdapter) emit(event *zerolog.Event, msg string, fields []any) {
	for key, value := range pairs(fields) {
		event = event.Interface(key, value)
	}
	event.Msg(msg)
}

// pairs folds a variadic key/value list into a map. A trailing key without a
// value and non-string keys are dropped rather than panicking.
func pairs(fields []any) map[string]any {
	out := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		out[key] = fields[i+1]
	}
	return out
}
