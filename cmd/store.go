package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/troubadour-labs/attribution-cli/internal/store"
)

func initStore(ctx context.Context) (store.Repository, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "attribution.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
