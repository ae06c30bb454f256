// Package backend opens the configured collab storage backend.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/drawroom/internal/services/collab/storage"
	"github.com/louisbranch/drawroom/internal/services/collab/storage/postgres"
	"github.com/louisbranch/drawroom/internal/services/collab/storage/sqlite"
)

// Backend names.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// Config selects and locates a backend. An empty Kind means SQLite.
type Config struct {
	Kind        string
	DBPath      string
	PostgresURL string
}

// Open returns the store named by cfg, with its schema migrated.
func Open(ctx context.Context, cfg Config) (storage.Store, error) {
	switch kind := strings.ToLower(strings.TrimSpace(cfg.Kind)); kind {
	case "", SQLite:
		path := strings.TrimSpace(cfg.DBPath)
		if path == "" {
			return nil, errors.New("sqlite path is required")
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case Postgres:
		url := strings.TrimSpace(cfg.PostgresURL)
		if url == "" {
			return nil, errors.New("postgres url is required")
		}
		store, err := postgres.Open(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", kind)
	}
}
