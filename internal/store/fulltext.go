package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func scanFullText(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]RankedID, error) {
	out := make([]RankedID, 0)
	for rows.Next() {
		var r RankedID
		var rank float64
		if err := rows.Scan(&r.ID, &rank); err != nil {
			return nil, err
		}
		r.Score = rank
		r.Rank = len(out) + 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// EpisodicFullTextSearch BM25-ranks (via ts_rank over the generated
// summary_ts column) episodic memories within a conversation against query.
func EpisodicFullTextSearch(ctx context.Context, pool *pgxpool.Pool, conversationID uuid.UUID, query string, k int) ([]RankedID, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	rows, err := pool.Query(ctx, `
		SELECT id, ts_rank(summary_ts, websearch_to_tsquery('simple', $1)) AS rank
		FROM episodic_memories
		WHERE conversation_id = $2 AND summary_ts @@ websearch_to_tsquery('simple', $1)
		ORDER BY rank DESC
		LIMIT $3`, q, conversationID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFullText(rows)
}

// SemanticFullTextSearch BM25-ranks semantic memories within a conversation
// against query, optionally restricted to active facts and/or a category.
func SemanticFullTextSearch(ctx context.Context, pool *pgxpool.Pool, conversationID uuid.UUID, query string, k int, activeOnly bool, category string) ([]RankedID, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}

	where := []string{"conversation_id = $2", "search_ts @@ websearch_to_tsquery('simple', $1)"}
	args := []any{q, conversationID}
	if activeOnly {
		where = append(where, "invalid_at IS NULL")
	}
	if category != "" {
		args = append(args, category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	args = append(args, k)
	limitParam := len(args)

	sql := fmt.Sprintf(`SELECT id, ts_rank(search_ts, websearch_to_tsquery('simple', $1)) AS rank
		FROM semantic_memories
		WHERE %s
		ORDER BY rank DESC
		LIMIT $%d`, strings.Join(where, " AND "), limitParam)

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFullText(rows)
}
