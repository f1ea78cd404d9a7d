package util

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const ctxKeyLogger contextKey = "logger"

// WithLogger attaches a request-scoped logger to the context.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, l)
}

// LogFromContext returns the logger attached to the context, falling back to
// the global logger.
func LogFromContext(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKeyLogger).(zerolog.Logger); ok {
			return &l
		}
	}
	l := log.Logger
	return &l
}
