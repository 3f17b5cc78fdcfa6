package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/gridfill/internal/config"
)

// Open returns the Recorder selected by cfg.Driver.
func Open(ctx context.Context, cfg config.AuditConfig) (Recorder, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemoryStore(1000), nil
	case "none":
		return Discard{}, nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.DSN)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN, cfg.MaxConns)
	}
	return nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
}
