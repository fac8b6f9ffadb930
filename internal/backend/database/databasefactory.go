package database

import (
	"context"
	"fmt"
	"log/slog"
)

// Supported values for the storage backend kind.
const (
	KindFile     = "file"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindRedis    = "redis"
)

// NewDatabase opens the store named by kind and makes sure its schema exists.
func NewDatabase(ctx context.Context, kind, connectionString string, opts Options) (store ScanStore, err error) {
	switch kind {
	case KindFile:
		store, err = NewFileStore(connectionString, opts)
	case KindSQLite:
		store, err = NewSQLiteStore(connectionString, opts)
	case KindPostgres:
		store, err = NewPostgresStore(connectionString, opts)
	case KindRedis:
		store, err = NewRedisStore(connectionString, opts)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %q", kind)
	}
	if err != nil {
		return nil, err
	}

	// idempotent; matters for in-memory SQLite and a fresh file store
	slog.Info("initializing storage schema", "backend", kind)
	if err = store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to prepare %s storage: %w", kind, err)
	}

	return store, nil
}
