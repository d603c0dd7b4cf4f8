// Package postgres provides the durable adapters for the archive and fact
// tiers, backed by pgx and pgvector.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DefaultQueryTimeout = 10 * time.Second

// DB is the querying surface the repositories need. Both *pgxpool.Pool and
// the pgxmock pool satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates the engram schema. Idempotent; embeddingDim sizes the
// pgvector column and must match the capability provider.
func Migrate(ctx context.Context, db DB, embeddingDim int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS engram_messages (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 0,
			metadata JSONB,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS engram_messages_user_conv_idx
			ON engram_messages (user_id, conversation_id, ts)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS engram_facts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			conversation_id TEXT,
			source_message_id TEXT,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			importance REAL NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL,
			last_accessed TIMESTAMPTZ NOT NULL,
			access_count INT NOT NULL
		)`, embeddingDim),
		`CREATE UNIQUE INDEX IF NOT EXISTS engram_facts_identity_idx
			ON engram_facts (user_id, lower(key), lower(value))`,
		`CREATE INDEX IF NOT EXISTS engram_facts_user_idx
			ON engram_facts (user_id, importance DESC, last_accessed DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// withTimeout bounds queries that arrive without a deadline.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}
