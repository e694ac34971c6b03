// Package telemetry provides the observability surface of the SDK: a small
// structured logging facade backed by goa.design/clue/log and OTEL instruments
// covering prediction traffic. The SDK consumes the Logger interface so tests
// and embedders can substitute their own sink.
package telemetry

import (
	"context"

	"goa.design/clue/log"
)

type (
	// Logger emits structured log entries with alternating key-value pairs.
	// Implementations must be safe for concurrent use.
	Logger interface {
		// Debug emits a debug-level entry.
		Debug(ctx context.Context, msg string, keyvals ...any)
		// Info emits an info-level entry.
		Info(ctx context.Context, msg string, keyvals ...any)
		// Warn emits a warning-level entry.
		Warn(ctx context.Context, msg string, keyvals ...any)
		// Error emits an error-level entry. err may be nil.
		Error(ctx context.Context, msg string, err error, keyvals ...any)
	}

	// ClueLogger delegates to goa.design/clue/log. Formatting and debug
	// settings come from the context (log.Context, log.WithFormat,
	// log.WithDebug).
	ClueLogger struct{}

	// NopLogger discards all entries. Used as the default when embedders do
	// not configure logging.
	NopLogger struct{}
)

// NewClueLogger constructs a Logger that delegates to goa.design/clue/log.
func NewClueLogger() Logger { return ClueLogger{} }

// Debug implements Logger.
func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fielders(msg, keyvals)...)
}

// Info implements Logger.
func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(msg, keyvals)...)
}

// Warn implements Logger.
func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, fielders(msg, keyvals)...)
}

// Error implements Logger.
func (ClueLogger) Error(ctx context.Context, msg string, err error, keyvals ...any) {
	log.Error(ctx, err, fielders(msg, keyvals)...)
}

// Debug implements Logger.
func (NopLogger) Debug(context.Context, string, ...any) {}

// Info implements Logger.
func (NopLogger) Info(context.Context, string, ...any) {}

// Warn implements Logger.
func (NopLogger) Warn(context.Context, string, ...any) {}

// Error implements Logger.
func (NopLogger) Error(context.Context, string, error, ...any) {}

// fielders converts a message plus alternating key-value pairs into clue
// fielders. Non-string keys are skipped; a trailing odd key is paired with nil.
func fielders(msg string, keyvals []any) []log.Fielder {
	fs := []log.Fielder{log.KV{K: "msg", V: msg}}
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fs = append(fs, log.KV{K: k, V: v})
	}
	return fs
}
