package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// metricOperator returns the pgvector distance operator and a score
// expression for which ORDER BY ... ASC always means "best first".
func metricOperator(metric string) (op, scoreExpr string) {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "l2", "euclidean":
		return "<->", "embedding <-> $1::vector"
	case "ip", "dot":
		return "<#>", "embedding <#> $1::vector"
	default:
		return "<=>", "embedding <=> $1::vector"
	}
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}

func scanRanked(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]RankedID, error) {
	out := make([]RankedID, 0)
	for rows.Next() {
		var r RankedID
		var dist float64
		if err := rows.Scan(&r.ID, &dist); err != nil {
			return nil, err
		}
		r.Score = dist
		r.Rank = len(out) + 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// EpisodicVectorSearch returns the k nearest episodic memories to query
// within a conversation, ordered best-first by the given metric.
func EpisodicVectorSearch(ctx context.Context, pool *pgxpool.Pool, conversationID uuid.UUID, query []float32, metric string, k int) ([]RankedID, error) {
	if k <= 0 {
		k = 10
	}
	op, _ := metricOperator(metric)
	vecLit := toVectorLiteral(query)
	sql := fmt.Sprintf(`SELECT id, embedding %s $1::vector AS dist FROM episodic_memories
		WHERE conversation_id = $2
		ORDER BY embedding %s $1::vector
		LIMIT $3`, op, op)
	rows, err := pool.Query(ctx, sql, vecLit, conversationID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRanked(rows)
}

// SemanticVectorSearch returns the k nearest semantic memories to query
// within a conversation, optionally restricted to active (invalid_at IS
// NULL) facts and/or a single category.
func SemanticVectorSearch(ctx context.Context, pool *pgxpool.Pool, conversationID uuid.UUID, query []float32, metric string, k int, activeOnly bool, category string) ([]RankedID, error) {
	if k <= 0 {
		k = 10
	}
	op, _ := metricOperator(metric)
	vecLit := toVectorLiteral(query)

	where := []string{"conversation_id = $2"}
	args := []any{vecLit, conversationID}
	if activeOnly {
		where = append(where, "invalid_at IS NULL")
	}
	if category != "" {
		args = append(args, category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	args = append(args, k)
	limitParam := len(args)

	sql := fmt.Sprintf(`SELECT id, embedding %s $1::vector AS dist FROM semantic_memories
		WHERE %s
		ORDER BY embedding %s $1::vector
		LIMIT $%d`, op, strings.Join(where, " AND "), op, limitParam)

	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRanked(rows)
}
