// Package resilience bounds per-shard phase execution with deadlines. A shard
// that misses its deadline is treated like a failed shard; the reduction
// proceeds with whatever shards responded in time.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout runs fn under a context that expires after timeout. Shard
// executors check their context while collecting, so expiry unwinds fn
// instead of racing it. A non-positive timeout runs fn unbounded.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(timeoutCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%s: %w (limit %v)", name, context.DeadlineExceeded, timeout)
	}
	return fmt.Errorf("%s: %w", name, err)
}

// IsTimeout reports whether err was caused by an expired phase deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
