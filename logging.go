package mediasched

import (
	"log/slog"

	"github.com/joeycumines/logiface"
	logifaceslog "github.com/joeycumines/logiface-slog"
)

// Logger is the structured logger type accepted by Config. It follows the
// teacher corpus's own logging façade (logiface) rather than a hand-rolled
// interface, backed by log/slog via logiface-slog.
type Logger = logiface.Logger[*logifaceslog.Event]

// NewLogger builds a Logger that writes to handler, at or above level. A nil
// handler is not accepted; use a discarding slog.Handler (or leave
// Config.Logger unset, which installs a no-op Logger) to suppress output.
func NewLogger(handler slog.Handler, level logiface.Level) *Logger {
	return logiface.New[*logifaceslog.Event](
		logifaceslog.NewLogger(handler, logifaceslog.WithLevel(level)),
	)
}

// noopLogger returns a Logger with no writer configured, matching
// eventloop's default-disabled-logger convention: every call is cheap and
// every event is silently dropped.
func noopLogger() *Logger {
	return logiface.New[*logifaceslog.Event]()
}
