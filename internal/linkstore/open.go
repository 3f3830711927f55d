package linkstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yoshihito-tsuji/ClaudeMCP/internal/config"
	"github.com/yoshihito-tsuji/ClaudeMCP/internal/memory"
)

// Open returns the edge store selected by cfg.Graph.Backend.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (memory.EdgeStore, error) {
	var (
		store memory.EdgeStore
		err   error
	)
	switch cfg.Graph.Backend {
	case "", "file":
		store, err = NewFileStore(cfg.Graph.Path, logger)
	case "neo4j":
		n := cfg.Database.Neo4j
		store, err = NewNeo4jStore(ctx, n.URI, n.User, n.Password, logger)
	case "postgres":
		store, err = NewPostgresStore(ctx, cfg.Database.Postgres.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown graph backend %q", cfg.Graph.Backend)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
