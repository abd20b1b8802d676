// Package store provides the Postgres-backed persistence primitives shared
// by the message queue, episodic store, and semantic store: a connection
// pool, BM25 and pgvector search adapters, and Reciprocal Rank Fusion.
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPool opens a pgx connection pool against dsn.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, dsn)
}
