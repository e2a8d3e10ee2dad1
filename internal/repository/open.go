package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Open connects the store for driver and applies its schema. The returned
// function releases the connection.
func Open(ctx context.Context, driver, dsn, database string) (RegistrationStore, func(), error) {
	switch driver {
	case DriverPostgres:
		poolConfig, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse database config: %w", err)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		store := NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return store, pool.Close, nil

	case DriverMongo:
		store, err := NewMongoStore(ctx, dsn, database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close(context.Background())
			return nil, nil, fmt.Errorf("failed to migrate mongo: %w", err)
		}
		return store, func() { _ = store.Close(context.Background()) }, nil

	case DriverMemory:
		return NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
