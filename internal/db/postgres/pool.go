// Package postgres opens pgx connection pools with pgvector types registered.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/kailas-cloud/docstore/internal/db"
)

// Config holds connection parameters for a PostgreSQL pool.
type Config struct {
	DSN      string
	MaxConns int32
	// CreateExtension runs CREATE EXTENSION IF NOT EXISTS vector on connect.
	CreateExtension bool
}

// NewPool connects, optionally installs pgvector and fails fast when the
// extension is missing.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New("dsn is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	if cfg.CreateExtension {
		if err := createExtension(ctx, poolCfg.ConnConfig); err != nil {
			return nil, err
		}
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	var exists bool
	err = pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&exists)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("check pgvector extension: %w", err)
	}
	if !exists {
		pool.Close()
		return nil, errors.New("pgvector extension not installed: run CREATE EXTENSION vector")
	}
	return pool, nil
}

// createExtension runs on a dedicated connection: RegisterTypes in
// AfterConnect needs the vector type to exist already.
func createExtension(ctx context.Context, cfg *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create pgvector extension: %w", err)
	}
	return nil
}

// WaitForReady blocks until the pool answers a ping or timeout passes.
func WaitForReady(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	return db.WaitForReady(ctx, pool, timeout) //nolint:wrapcheck // already describes the wait
}
