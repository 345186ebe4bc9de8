// Package logger configures the process-wide slog logger and threads a
// per-search query id through contexts so every line logged on behalf of one
// search can be correlated.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type queryIDKey struct{}

// Setup installs the default slog logger. Format "json" selects the JSON
// handler; anything else logs as text. Unknown levels fall back to info.
func Setup(level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// WithQueryID stores the query id in the context.
func WithQueryID(ctx context.Context, queryID string) context.Context {
	return context.WithValue(ctx, queryIDKey{}, queryID)
}

// QueryID returns the query id stored in ctx, or "" when there is none.
func QueryID(ctx context.Context) string {
	id, _ := ctx.Value(queryIDKey{}).(string)
	return id
}

// FromContext returns the default logger, tagged with the query id when ctx
// carries one.
func FromContext(ctx context.Context) *slog.Logger {
	if id := QueryID(ctx); id != "" {
		return slog.Default().With("query_id", id)
	}
	return slog.Default()
}

// WithComponent returns the default logger tagged with a component name.
func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
