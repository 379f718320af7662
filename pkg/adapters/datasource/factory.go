package datasource

import (
	"context"
	"fmt"
	"strings"
)

// openers is populated by the variant packages via Register.
var openers = map[string]func(ctx context.Context, cfg Config) (Adapter, error){}

// Register installs an adapter constructor for a dialect. Called from the
// variant packages' init functions.
func Register(dialect string, open func(ctx context.Context, cfg Config) (Adapter, error)) {
	openers[dialect] = open
}

// Open constructs the adapter matching the connection URL: postgres:// URLs
// get the PostgreSQL variant, everything else is treated as a SQLite path.
func Open(ctx context.Context, cfg Config) (Adapter, error) {
	cfg = cfg.withDefaults()

	dialect := "sqlite"
	if strings.HasPrefix(cfg.URL, "postgres://") || strings.HasPrefix(cfg.URL, "postgresql://") {
		dialect = "postgres"
	}

	open, ok := openers[dialect]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for dialect %q", dialect)
	}
	return open(ctx, cfg)
}
