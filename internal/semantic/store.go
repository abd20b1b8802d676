// Package semantic implements the semantic fact store (hybrid retrieval
// over active facts) and the offline consolidation pipeline that derives
// facts from episodic memories. Grounded on internal/persistence/databases'
// transactional Postgres idiom and internal/agent/memory/evolving.go's
// cosine-threshold dedup-on-write and action-typed batch edit shape.
package semantic

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"memoryd/internal/llm"
	"memoryd/internal/store"
)

const (
	ftCandidates  = 100
	vecCandidates = 100
)

// Store is a Postgres-backed semantic fact store.
type Store struct {
	pool      *pgxpool.Pool
	llmClient llm.Client
	metric    string
}

// New builds a Store.
func New(pool *pgxpool.Pool, llmClient llm.Client, metric string) *Store {
	if metric == "" {
		metric = "cosine"
	}
	return &Store{pool: pool, llmClient: llmClient, metric: metric}
}

// Scored pairs a Memory with its RRF fusion score.
type Scored struct {
	Memory Memory
	Score  float64
}

// Retrieve runs hybrid BM25+vector search over active facts scoped to cid
// (and, optionally, category), fuses with RRF, and returns the top limit.
func (s *Store) Retrieve(ctx context.Context, cid uuid.UUID, query string, limit int, category string) ([]Scored, error) {
	if limit <= 0 {
		limit = 20
	}
	qEmbed, err := s.llmClient.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}

	var ftRanking, vecRanking []store.RankedID
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ftRanking, err = store.SemanticFullTextSearch(gctx, s.pool, cid, query, ftCandidates, true, category)
		return err
	})
	g.Go(func() error {
		var err error
		vecRanking, err = store.SemanticVectorSearch(gctx, s.pool, cid, qEmbed, s.metric, vecCandidates, true, category)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("semantic: retrieve candidates: %w", err)
	}

	fused := store.FuseRRF(ftRanking, vecRanking)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
	}
	rows, err := loadByIDs(ctx, s.pool, ids)
	if err != nil {
		return nil, fmt.Errorf("semantic: load candidates: %w", err)
	}

	out := make([]Scored, 0, len(fused))
	for _, f := range fused {
		if m, ok := rows[f.ID]; ok {
			out = append(out, Scored{Memory: m, Score: f.Score})
		}
	}
	return out, nil
}

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NearestActiveDuplicate returns the nearest active fact within cid whose
// cosine similarity to embedding is >= threshold, among up to limit nearest
// candidates. Identity is scoped to the conversation only, not category: a
// fact re-extracted under a different category is still the same fact and
// must still be recognized as a duplicate. ok is false if none qualifies.
func NearestActiveDuplicate(ctx context.Context, q queryer, cid uuid.UUID, embedding []float32, threshold float64, limit int) (id uuid.UUID, similarity float64, ok bool, err error) {
	vecLit := toVectorLiteral(embedding)
	rows, err := q.Query(ctx, `
		SELECT id, 1 - (embedding <=> $1::vector) AS sim
		FROM semantic_memories
		WHERE conversation_id = $2 AND invalid_at IS NULL
		ORDER BY embedding <=> $1::vector
		LIMIT $3`, vecLit, cid, limit)
	if err != nil {
		return uuid.UUID{}, 0, false, fmt.Errorf("semantic: nearest duplicate: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var candID uuid.UUID
		var sim float64
		if err := rows.Scan(&candID, &sim); err != nil {
			return uuid.UUID{}, 0, false, err
		}
		if sim >= threshold {
			return candID, sim, true, rows.Err()
		}
	}
	return uuid.UUID{}, 0, false, rows.Err()
}

func loadByIDs(ctx context.Context, q queryer, ids []uuid.UUID) (map[uuid.UUID]Memory, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]Memory{}, nil
	}
	rows, err := q.Query(ctx, `
		SELECT id, conversation_id, category, fact, keywords, search_text, embedding::text,
		       source_episodic_ids, valid_at, invalid_at, created_at
		FROM semantic_memories
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]Memory, len(ids))
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

func scanMemory(rows pgx.Rows) (Memory, error) {
	var m Memory
	var category string
	var embeddingText string
	if err := rows.Scan(&m.ID, &m.ConversationID, &category, &m.Fact, &m.Keywords, &m.SearchText,
		&embeddingText, &m.SourceEpisodicIDs, &m.ValidAt, &m.InvalidAt, &m.CreatedAt); err != nil {
		return Memory{}, err
	}
	m.Category = Category(category)
	vec, err := parseVectorLiteral(embeddingText)
	if err != nil {
		return Memory{}, err
	}
	m.Embedding = vec
	return m, nil
}

// searchText builds the generated search_text projection.
func searchText(fact string, keywords []string) string {
	return fact + " " + strings.Join(keywords, " ")
}

// embeddingText builds the string embedded for a semantic fact.
func embeddingText(category Category, fact string, keywords []string) string {
	return fmt.Sprintf("%s: %s %s", category, fact, strings.Join(keywords, " "))
}

func toVectorLiteral(v []float32) string {
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

func parseVectorLiteral(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector literal: %w", err)
		}
		out[i] = float32(f)
	}
	return out, nil
}
