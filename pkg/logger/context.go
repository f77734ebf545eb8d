package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// With stores a logger carrying the extra fields on the context. The
// request-id middleware uses this so every handler log line carries the
// trace id without threading it explicitly.
func With(ctx context.Context, fields ...any) context.Context {
	l := From(ctx).With(fields...)
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the context's logger, falling back to the process default.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return LoggerWrapper()
}
