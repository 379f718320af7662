package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueryTimeoutFrom(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, 30*time.Second, QueryTimeoutFrom(ctx, 30*time.Second))

	ctx = WithQueryTimeout(ctx, 45*time.Second)
	assert.Equal(t, 45*time.Second, QueryTimeoutFrom(ctx, 30*time.Second))
}

func TestWithQueryTimeoutIgnoresNonPositive(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithQueryTimeout(ctx, 0))
	assert.Equal(t, ctx, WithQueryTimeout(ctx, -time.Second))
}
