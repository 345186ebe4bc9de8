// Package tracing times the phases of a search as a span tree. Spans carry a
// trace id through the context and the finished tree is emitted through slog,
// so the relative cost of the dfs, query, reduce, and fetch phases of one
// search shows up together in the log.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

// Span is one timed operation. Child spans record the phases that ran under
// it.
type Span struct {
	Name    string
	TraceID string

	mu       sync.Mutex
	started  time.Time
	duration time.Duration
	children []*Span
	attrs    []any
}

// StartSpan opens a root span and stores it in the returned context.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	s := &Span{Name: name, TraceID: traceID, started: time.Now()}
	return context.WithValue(ctx, contextKey{}, s), s
}

// SpanFromContext returns the innermost span in ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(contextKey{}).(*Span)
	return s
}

// End fixes the span's duration. Calling End twice keeps the first duration.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.duration == 0 {
		s.duration = time.Since(s.started)
	}
}

// SetAttr attaches a key-value pair that is logged with the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

func (s *Span) child(name string) *Span {
	c := &Span{Name: name, TraceID: s.TraceID, started: time.Now()}
	s.mu.Lock()
	s.children = append(s.children, c)
	s.mu.Unlock()
	return c
}

// Timed runs fn inside a child span of the span in ctx and ends the child
// when fn returns. Without a span in ctx, fn runs untimed.
func Timed(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	parent := SpanFromContext(ctx)
	if parent == nil {
		return fn(ctx)
	}
	c := parent.child(name)
	defer c.End()
	return fn(context.WithValue(ctx, contextKey{}, c))
}

// Log emits the whole span tree at debug level, one line per span.
func (s *Span) Log() {
	s.log(0)
}

func (s *Span) log(depth int) {
	s.mu.Lock()
	attrs := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.duration.Milliseconds(),
		"depth", depth,
	}
	attrs = append(attrs, s.attrs...)
	children := s.children
	s.mu.Unlock()

	slog.Debug("span", attrs...)
	for _, c := range children {
		c.log(depth + 1)
	}
}
