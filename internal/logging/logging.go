// Package logging carries a request or job scoped slog.Logger in a
// context.Context.
package logging // import "feedkeeper.app/internal/logging"

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// FromContext returns the logger of ctx, or the default one.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// With returns a copy of ctx whose logger has args added.
func With(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(args...))
}

func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}
