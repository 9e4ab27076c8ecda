// Package cmd provides the shared factories the service binaries use to
// build their persistence, channel, and rate limiter from configuration.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nodeflow-io/nodeflow/pkg/persistence"
	"github.com/nodeflow-io/nodeflow/pkg/persistence/memory"
	"github.com/nodeflow-io/nodeflow/pkg/persistence/postgresql"
)

// NewPersistence builds a store from the database URL scheme. postgres is
// the production backend; memory exists for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return nil, fmt.Errorf("invalid database URL %q", databaseURL)
	}

	switch scheme {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "memory":
		logger.Warn("using in-memory persistence, state is lost on restart")

		return memory.NewPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}
