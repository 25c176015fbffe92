// Package logging threads a structured logger through a context.Context,
// backed by charmbracelet/log via the slog handler interface. The
// transaction coordinator pulls its logger from the context passed to
// Commit rather than a package-global, so a
// caller can attach a sub-logger per request without any global state.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
)

// NewHandler builds a charmbracelet/log handler presented through the
// slog.Handler interface, prefixed with name.
func NewHandler(name string) slog.Handler {
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          name,
		Level:           log.InfoLevel,
	})
}

// New returns a logger prefixed with name.
func New(name string) *slog.Logger {
	return slog.New(NewHandler(name))
}

type ctxKey struct{}

// IntoContext attaches a logger to ctx. Use FromContext to retrieve it.
func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or the default slog
// logger if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if v := ctx.Value(ctxKey{}); v != nil {
			return v.(*slog.Logger)
		}
	}
	return slog.Default()
}

// SubLogger derives a new logger from base by appending suffix to its
// charmbracelet prefix, falling back to a fresh handler if base is not
// backed by one.
func SubLogger(base *slog.Logger, suffix string) *slog.Logger {
	if cl, ok := base.Handler().(*log.Logger); ok {
		prefix := cl.GetPrefix()
		if prefix != "" {
			prefix = prefix + "/" + suffix
		} else {
			prefix = suffix
		}
		return slog.New(NewHandler(prefix))
	}
	return slog.New(NewHandler(suffix))
}
