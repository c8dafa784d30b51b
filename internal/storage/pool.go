// Package storage provides the PostgreSQL storage layer for Kioku.
//
// It owns records, tags, pending confirmations, tasks, and skills, plus the
// lexical full-text search the assistant kernel depends on. All writes go
// through the pool's serializable statements; Postgres provides the
// single-writer discipline the kernel requires under concurrent CLI/GUI
// callers.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// DB wraps a pgxpool.Pool with Kioku's query methods.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new DB with a connection pool.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	// Register pgvector types on each new connection so record embeddings
	// can be encoded. Best-effort: the vector extension may not exist yet
	// during initial startup before migrations run.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("storage: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool exposes the underlying pool for callers that need raw queries (tests).
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close releases the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}
