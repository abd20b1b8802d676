package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Bootstrap creates every table and index this module needs with CREATE ...
// IF NOT EXISTS; a table that already exists is left as it is (no columns are
// added or altered). dims is the process-wide embedding dimension.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	vecType := fmt.Sprintf("vector(%d)", dims)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS message_queues (
			conversation_id UUID PRIMARY KEY,
			messages JSONB NOT NULL DEFAULT '[]'::jsonb,
			fence INT,
			fence_started_at TIMESTAMPTZ,
			window_doubled BOOLEAN NOT NULL DEFAULT false,
			prev_episode_summary TEXT,
			pending_reviews JSONB NOT NULL DEFAULT '[]'::jsonb
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS episodic_memories (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL,
			messages JSONB NOT NULL,
			title TEXT NOT NULL,
			summary TEXT NOT NULL,
			embedding %s NOT NULL,
			stability REAL NOT NULL,
			difficulty REAL NOT NULL,
			surprise REAL NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			start_at TIMESTAMPTZ NOT NULL,
			end_at TIMESTAMPTZ NOT NULL,
			last_reviewed_at TIMESTAMPTZ NOT NULL,
			consolidated_at TIMESTAMPTZ,
			summary_ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(summary,''))) STORED
		)`, vecType),
		`CREATE INDEX IF NOT EXISTS episodic_cid_idx ON episodic_memories (conversation_id)`,
		`CREATE INDEX IF NOT EXISTS episodic_summary_ts_idx ON episodic_memories USING GIN (summary_ts)`,
		`CREATE INDEX IF NOT EXISTS episodic_embedding_hnsw_idx ON episodic_memories USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS episodic_unconsolidated_idx ON episodic_memories (conversation_id) WHERE consolidated_at IS NULL`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS semantic_memories (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL,
			category TEXT NOT NULL,
			fact TEXT NOT NULL,
			keywords TEXT[] NOT NULL DEFAULT '{}',
			search_text TEXT NOT NULL,
			embedding %s NOT NULL,
			source_episodic_ids UUID[] NOT NULL DEFAULT '{}',
			valid_at TIMESTAMPTZ NOT NULL,
			invalid_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			search_ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(search_text,''))) STORED
		)`, vecType),
		`CREATE INDEX IF NOT EXISTS semantic_cid_idx ON semantic_memories (conversation_id)`,
		`CREATE INDEX IF NOT EXISTS semantic_search_ts_idx ON semantic_memories USING GIN (search_ts)`,
		`CREATE INDEX IF NOT EXISTS semantic_embedding_hnsw_idx ON semantic_memories USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS semantic_active_category_idx ON semantic_memories (conversation_id, category) WHERE invalid_at IS NULL`,
	}

	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("bootstrap schema: %w (stmt: %s)", err, s)
		}
	}
	return nil
}
