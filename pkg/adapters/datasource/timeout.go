package datasource

import (
	"context"
	"time"
)

type queryTimeoutKey struct{}

// WithQueryTimeout returns a context carrying a per-request override of the
// adapter's configured query timeout. The streaming chat path grants queries
// a longer bound than the REST default.
func WithQueryTimeout(ctx context.Context, d time.Duration) context.Context {
	if d <= 0 {
		return ctx
	}
	return context.WithValue(ctx, queryTimeoutKey{}, d)
}

// QueryTimeoutFrom returns the override carried by ctx, or fallback when
// none is set.
func QueryTimeoutFrom(ctx context.Context, fallback time.Duration) time.Duration {
	if d, ok := ctx.Value(queryTimeoutKey{}).(time.Duration); ok && d > 0 {
		return d
	}
	return fallback
}
