// Package episodic implements the episodic memory store: creation of
// conversation-segment memories carrying FSRS scheduling state, and hybrid
// BM25+vector retrieval re-ranked by FSRS retrievability decay. Grounded on
// internal/persistence/databases' transactional Postgres idiom, generalized
// from a single documents/embeddings table to the episodic_memories table.
package episodic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"memoryd/internal/fsrs"
	"memoryd/internal/llm"
	"memoryd/internal/queue"
	"memoryd/internal/store"
)

// Memory is one stored episodic memory.
type Memory struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Messages       []queue.Message
	Title          string
	Summary        string
	Embedding      []float32
	Stability      float64
	Difficulty     float64
	Surprise       float64
	CreatedAt      time.Time
	StartAt        time.Time
	EndAt          time.Time
	LastReviewedAt time.Time
	ConsolidatedAt *time.Time
}

// Scored pairs a Memory with its final hybrid+decay retrieval score.
type Scored struct {
	Memory Memory
	Score  float64
}

const (
	ftCandidates  = 100
	vecCandidates = 100
)

// Store is a Postgres-backed episodic memory store.
type Store struct {
	pool      *pgxpool.Pool
	llmClient llm.Client
	scheduler *fsrs.Scheduler
	metric    string
}

// New builds a Store. metric is the pgvector distance metric ("cosine" by default).
func New(pool *pgxpool.Pool, llmClient llm.Client, scheduler *fsrs.Scheduler, metric string) *Store {
	if metric == "" {
		metric = "cosine"
	}
	return &Store{pool: pool, llmClient: llmClient, scheduler: scheduler, metric: metric}
}

// Create embeds the segment summary, initializes FSRS state scaled by
// surprise, and persists the episode.
func (s *Store) Create(ctx context.Context, cid uuid.UUID, messages []queue.Message, title, summary string, surprise float64) (*Memory, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("episodic: create: messages must be non-empty")
	}
	embedding, err := s.llmClient.Embed(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("episodic: embed summary: %w", err)
	}
	stability, difficulty := s.scheduler.Init(surprise)

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("episodic: new id: %w", err)
	}
	now := time.Now().UTC()
	mem := &Memory{
		ID:             id,
		ConversationID: cid,
		Messages:       messages,
		Title:          title,
		Summary:        summary,
		Embedding:      embedding,
		Stability:      stability,
		Difficulty:     difficulty,
		Surprise:       surprise,
		CreatedAt:      now,
		StartAt:        messages[0].Timestamp,
		EndAt:          messages[len(messages)-1].Timestamp,
		LastReviewedAt: now,
	}

	msgJSON, err := json.Marshal(mem.Messages)
	if err != nil {
		return nil, fmt.Errorf("episodic: marshal messages: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO episodic_memories
			(id, conversation_id, messages, title, summary, embedding,
			 stability, difficulty, surprise, created_at, start_at, end_at, last_reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8, $9, $10, $11, $12, $13)`,
		mem.ID, mem.ConversationID, msgJSON, mem.Title, mem.Summary, vectorLiteral(mem.Embedding),
		mem.Stability, mem.Difficulty, mem.Surprise, mem.CreatedAt, mem.StartAt, mem.EndAt, mem.LastReviewedAt)
	if err != nil {
		return nil, fmt.Errorf("episodic: insert: %w", err)
	}
	return mem, nil
}

// Retrieve runs hybrid BM25+vector search scoped to cid, fuses with RRF,
// re-ranks by FSRS retrievability decay, and returns the top limit.
func (s *Store) Retrieve(ctx context.Context, cid uuid.UUID, query string, limit int) ([]Scored, error) {
	if limit <= 0 {
		limit = 5
	}
	qEmbed, err := s.llmClient.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("episodic: embed query: %w", err)
	}

	var ftRanking, vecRanking []store.RankedID
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ftRanking, err = store.EpisodicFullTextSearch(gctx, s.pool, cid, query, ftCandidates)
		return err
	})
	g.Go(func() error {
		var err error
		vecRanking, err = store.EpisodicVectorSearch(gctx, s.pool, cid, qEmbed, s.metric, vecCandidates)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("episodic: retrieve candidates: %w", err)
	}

	fused := store.FuseRRF(ftRanking, vecRanking)
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
	}
	rows, err := s.loadByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("episodic: load candidates: %w", err)
	}

	now := time.Now().UTC()
	scored := make([]Scored, 0, len(fused))
	for _, f := range fused {
		mem, ok := rows[f.ID]
		if !ok {
			continue
		}
		retrievability := s.scheduler.Retrievability(mem.Stability, mem.LastReviewedAt, now)
		scored = append(scored, Scored{Memory: mem, Score: f.Score * retrievability})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Recent returns the n newest episodes by end_at, with no FSRS re-ranking.
func (s *Store) Recent(ctx context.Context, cid uuid.UUID, n int) ([]Memory, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, messages, title, summary, embedding::text,
		       stability, difficulty, surprise, created_at, start_at, end_at,
		       last_reviewed_at, consolidated_at
		FROM episodic_memories
		WHERE conversation_id = $1
		ORDER BY end_at DESC
		LIMIT $2`, cid, n)
	if err != nil {
		return nil, fmt.Errorf("episodic: recent: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// UnconsolidatedCount counts episodes for cid that have not yet been
// consolidated into semantic facts.
func (s *Store) UnconsolidatedCount(ctx context.Context, cid uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM episodic_memories
		WHERE conversation_id = $1 AND consolidated_at IS NULL`, cid).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("episodic: unconsolidated count: %w", err)
	}
	return n, nil
}

// Unconsolidated returns every episode for cid not yet consolidated.
func (s *Store) Unconsolidated(ctx context.Context, cid uuid.UUID) ([]Memory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, messages, title, summary, embedding::text,
		       stability, difficulty, surprise, created_at, start_at, end_at,
		       last_reviewed_at, consolidated_at
		FROM episodic_memories
		WHERE conversation_id = $1 AND consolidated_at IS NULL
		ORDER BY end_at ASC`, cid)
	if err != nil {
		return nil, fmt.Errorf("episodic: unconsolidated: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// MarkConsolidated sets consolidated_at = at on every id given.
func (s *Store) MarkConsolidated(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE episodic_memories SET consolidated_at = $2 WHERE id = ANY($1)`, ids, at)
	if err != nil {
		return fmt.Errorf("episodic: mark consolidated: %w", err)
	}
	return nil
}

// ApplyReview persists an FSRS transition's result for a single memory.
func (s *Store) ApplyReview(ctx context.Context, id uuid.UUID, stability, difficulty float64, reviewedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE episodic_memories
		SET stability = $2, difficulty = $3, last_reviewed_at = $4
		WHERE id = $1`, id, stability, difficulty, reviewedAt)
	if err != nil {
		return fmt.Errorf("episodic: apply review: %w", err)
	}
	return nil
}

// ByIDs loads every memory in ids, keyed by id. Missing ids are simply absent
// from the result.
func (s *Store) ByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Memory, error) {
	return s.loadByIDs(ctx, ids)
}

// ByID loads a single memory by id.
func (s *Store) ByID(ctx context.Context, id uuid.UUID) (Memory, error) {
	m, err := s.loadByIDs(ctx, []uuid.UUID{id})
	if err != nil {
		return Memory{}, err
	}
	mem, ok := m[id]
	if !ok {
		return Memory{}, fmt.Errorf("episodic: memory %s not found", id)
	}
	return mem, nil
}

func (s *Store) loadByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Memory, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]Memory{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, messages, title, summary, embedding::text,
		       stability, difficulty, surprise, created_at, start_at, end_at,
		       last_reviewed_at, consolidated_at
		FROM episodic_memories
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]Memory, len(list))
	for _, m := range list {
		out[m.ID] = m
	}
	return out, nil
}

func scanMemories(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]Memory, error) {
	out := make([]Memory, 0)
	for rows.Next() {
		var m Memory
		var msgJSON []byte
		var embeddingText string
		if err := rows.Scan(&m.ID, &m.ConversationID, &msgJSON, &m.Title, &m.Summary, &embeddingText,
			&m.Stability, &m.Difficulty, &m.Surprise, &m.CreatedAt, &m.StartAt, &m.EndAt,
			&m.LastReviewedAt, &m.ConsolidatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(msgJSON, &m.Messages); err != nil {
			return nil, err
		}
		vec, err := parseVectorLiteral(embeddingText)
		if err != nil {
			return nil, err
		}
		m.Embedding = vec
		out = append(out, m)
	}
	return out, rows.Err()
}

// vectorLiteral renders a float32 slice as the pgvector text input format.
// No native vector Go binding is used (none is in the retrieval pack); both
// directions go through this text representation instead.
func vectorLiteral(v []float32) string {
	b := make([]byte, 0, len(v)*8+2)
	b = append(b, '[')
	for i, x := range v {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, []byte(fmt.Sprintf("%g", x))...)
	}
	b = append(b, ']')
	return string(b)
}

// parseVectorLiteral parses pgvector's "[1,2,3]" text output back into a
// float32 slice.
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
