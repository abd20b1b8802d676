package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"memoryd/internal/episodic"
	"memoryd/internal/llm"
	"memoryd/internal/memerr"
	"memoryd/internal/observability"
	"memoryd/internal/store"
)

type editAction string

const (
	actionNew        editAction = "new"
	actionReinforce  editAction = "reinforce"
	actionUpdate     editAction = "update"
	actionInvalidate editAction = "invalidate"
)

type factEdit struct {
	Action         editAction `json:"action"`
	ExistingFactID string     `json:"existing_fact_id"`
	Category       string     `json:"category"`
	Fact           string     `json:"fact"`
	Keywords       []string   `json:"keywords"`
}

type calibrateResponse struct {
	Edits []factEdit `json:"edits"`
}

var calibrateSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"edits": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action":           map[string]any{"type": "string", "enum": []any{"new", "reinforce", "update", "invalidate"}},
					"existing_fact_id": map[string]any{"type": "string"},
					"category": map[string]any{"type": "string", "enum": []any{
						"identity", "preference", "interest", "personality", "relationship", "experience", "goal", "guideline",
					}},
					"fact":     map[string]any{"type": "string"},
					"keywords": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
	},
}

// Consolidator runs the offline semantic consolidation pipeline: predict
// candidate facts from newly finished episodes, calibrate with one
// structured LLM call, validate against hallucinated references, and commit
// new/reinforce/update/invalidate edits in a single transaction.
type Consolidator struct {
	pool              *pgxpool.Pool
	llmClient         llm.Client
	episodes          *episodic.Store
	relatedFactsLimit int
	dedupeThreshold   float64
	flashbulbSurprise float64
	minUnconsolidated int
}

// Config tunes the consolidator's thresholds.
type Config struct {
	RelatedFactsLimit int
	DedupeThreshold   float64
	FlashbulbSurprise float64
	MinUnconsolidated int
}

// NewConsolidator builds a Consolidator.
func NewConsolidator(pool *pgxpool.Pool, llmClient llm.Client, episodes *episodic.Store, cfg Config) *Consolidator {
	if cfg.RelatedFactsLimit <= 0 {
		cfg.RelatedFactsLimit = 20
	}
	if cfg.DedupeThreshold <= 0 {
		cfg.DedupeThreshold = 0.95
	}
	if cfg.FlashbulbSurprise <= 0 {
		cfg.FlashbulbSurprise = 0.85
	}
	if cfg.MinUnconsolidated <= 0 {
		cfg.MinUnconsolidated = 3
	}
	return &Consolidator{
		pool: pool, llmClient: llmClient, episodes: episodes,
		relatedFactsLimit: cfg.RelatedFactsLimit, dedupeThreshold: cfg.DedupeThreshold,
		flashbulbSurprise: cfg.FlashbulbSurprise, minUnconsolidated: cfg.MinUnconsolidated,
	}
}

// ShouldForce reports whether a just-created episode's surprise alone should
// force consolidation regardless of the unconsolidated count (flashbulb).
func (c *Consolidator) ShouldForce(surprise float64) bool {
	return surprise >= c.flashbulbSurprise
}

// Run executes one consolidation pass for cid. force bypasses the minimum
// unconsolidated-episode threshold (flashbulb trigger).
func (c *Consolidator) Run(ctx context.Context, cid uuid.UUID, force bool) error {
	log := observability.LoggerWithTrace(ctx)

	episodes, err := c.episodes.Unconsolidated(ctx, cid)
	if err != nil {
		return fmt.Errorf("consolidator: load unconsolidated: %w", err)
	}
	if len(episodes) == 0 || (len(episodes) < c.minUnconsolidated && !force) {
		return nil
	}

	candidates, err := c.predict(ctx, cid, episodes)
	if err != nil {
		return fmt.Errorf("consolidator: predict: %w", err)
	}

	edits, err := c.calibrate(ctx, candidates, episodes)
	if err != nil {
		return fmt.Errorf("consolidator: calibrate: %w", err)
	}

	edits = c.validate(edits, candidates, log)

	if err := c.commit(ctx, cid, edits, episodes); err != nil {
		return fmt.Errorf("consolidator: commit: %w", err)
	}
	return nil
}

// predict uses each episode's stored summary embedding to retrieve up to
// relatedFactsLimit deduped candidate facts by vector
// similarity, active-only, same cid.
func (c *Consolidator) predict(ctx context.Context, cid uuid.UUID, episodes []episodic.Memory) (map[uuid.UUID]Memory, error) {
	scores := make(map[uuid.UUID]float64)
	for _, ep := range episodes {
		ranking, err := store.SemanticVectorSearch(ctx, c.pool, cid, ep.Embedding, "cosine", c.relatedFactsLimit, true, "")
		if err != nil {
			return nil, err
		}
		for _, r := range ranking {
			if prev, ok := scores[r.ID]; !ok || r.Score < prev {
				scores[r.ID] = r.Score
			}
		}
	}
	ids := make([]uuid.UUID, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return scores[ids[i]] < scores[ids[j]] })
	if len(ids) > c.relatedFactsLimit {
		ids = ids[:c.relatedFactsLimit]
	}
	return loadByIDs(ctx, c.pool, ids)
}

// calibrate issues the single structured LLM call combining existing facts
// (labeled by UUID) and the new episode summaries/messages.
func (c *Consolidator) calibrate(ctx context.Context, candidates map[uuid.UUID]Memory, episodes []episodic.Memory) ([]factEdit, error) {
	sys := "You maintain a user's long-term semantic memory. Given existing known facts and newly observed " +
		"conversation episodes, decide which facts to add, reinforce, update, or invalidate. " +
		"Reference existing facts only by the UUIDs given; never invent one."

	payload := struct {
		ExistingFacts []map[string]any `json:"existing_facts"`
		NewEpisodes   []map[string]any `json:"new_episodes"`
	}{}
	for id, f := range candidates {
		payload.ExistingFacts = append(payload.ExistingFacts, map[string]any{
			"id": id.String(), "category": f.Category, "fact": f.Fact, "keywords": f.Keywords,
		})
	}
	for _, ep := range episodes {
		payload.NewEpisodes = append(payload.NewEpisodes, map[string]any{
			"summary": ep.Summary, "messages": ep.Messages,
		})
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal calibrate payload: %w", err)
	}

	msgs := []llm.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: string(b)},
	}
	var resp calibrateResponse
	schema := llm.NormalizeSchema(calibrateSchema)
	if err := c.llmClient.GenerateStructured(ctx, msgs, "semantic_consolidation_edits", schema, &resp); err != nil {
		return nil, err
	}
	return resp.Edits, nil
}

// validate demotes any existing_fact_id not present in the predict set to a
// "new" action, guarding against hallucinated references.
func (c *Consolidator) validate(edits []factEdit, candidates map[uuid.UUID]Memory, log *zerolog.Logger) []factEdit {
	for i, e := range edits {
		if e.Action == actionNew || e.ExistingFactID == "" {
			continue
		}
		id, err := uuid.Parse(e.ExistingFactID)
		valid := err == nil
		if valid {
			_, valid = candidates[id]
		}
		if !valid {
			log.Warn().Str("existing_fact_id", e.ExistingFactID).Err(memerr.ErrHallucinatedFact).Msg("demoting edit to new")
			edits[i].Action = actionNew
			edits[i].ExistingFactID = ""
		}
	}
	return edits
}

// commit applies every edit, batch-embedding new/update facts first (outside
// the transaction), then performing all writes plus the consolidated_at
// stamp in a single transaction. No partial application.
func (c *Consolidator) commit(ctx context.Context, cid uuid.UUID, edits []factEdit, episodes []episodic.Memory) error {
	toEmbed := make([]string, 0, len(edits))
	embedIdx := make([]int, 0, len(edits))
	for i, e := range edits {
		if e.Action == actionNew || e.Action == actionUpdate {
			toEmbed = append(toEmbed, embeddingText(Category(e.Category), e.Fact, e.Keywords))
			embedIdx = append(embedIdx, i)
		}
	}
	var vectors [][]float32
	if len(toEmbed) > 0 {
		var err error
		vectors, err = c.llmClient.EmbedBatch(ctx, toEmbed)
		if err != nil {
			return fmt.Errorf("batch embed facts: %w", err)
		}
	}
	embeddingByIdx := make(map[int][]float32, len(embedIdx))
	for j, i := range embedIdx {
		embeddingByIdx[i] = vectors[j]
	}

	episodeIDs := make([]uuid.UUID, len(episodes))
	for i, ep := range episodes {
		episodeIDs[i] = ep.ID
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for i, e := range edits {
		switch e.Action {
		case actionNew:
			embedding := embeddingByIdx[i]
			dupID, _, found, err := NearestActiveDuplicate(ctx, tx, cid, embedding, c.dedupeThreshold, 5)
			if err != nil {
				return fmt.Errorf("probe duplicate: %w", err)
			}
			if found {
				if err := reinforce(ctx, tx, dupID, episodeIDs); err != nil {
					return err
				}
				continue
			}
			if err := insertFact(ctx, tx, cid, e, embedding, episodeIDs, now); err != nil {
				return err
			}
		case actionReinforce:
			id, err := uuid.Parse(e.ExistingFactID)
			if err != nil {
				continue
			}
			if err := reinforce(ctx, tx, id, episodeIDs); err != nil {
				return err
			}
		case actionUpdate:
			id, err := uuid.Parse(e.ExistingFactID)
			if err != nil {
				continue
			}
			if _, err := tx.Exec(ctx, `UPDATE semantic_memories SET invalid_at = $2 WHERE id = $1`, id, now); err != nil {
				return fmt.Errorf("invalidate for update: %w", err)
			}
			if err := insertFact(ctx, tx, cid, e, embeddingByIdx[i], episodeIDs, now); err != nil {
				return err
			}
		case actionInvalidate:
			id, err := uuid.Parse(e.ExistingFactID)
			if err != nil {
				continue
			}
			if _, err := tx.Exec(ctx, `UPDATE semantic_memories SET invalid_at = $2 WHERE id = $1`, id, now); err != nil {
				return fmt.Errorf("invalidate: %w", err)
			}
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE episodic_memories SET consolidated_at = $2 WHERE id = ANY($1)`, episodeIDs, now); err != nil {
		return fmt.Errorf("mark consolidated: %w", err)
	}

	return tx.Commit(ctx)
}

func insertFact(ctx context.Context, tx pgx.Tx, cid uuid.UUID, e factEdit, embedding []float32, sourceIDs []uuid.UUID, now time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("new fact id: %w", err)
	}
	st := searchText(e.Fact, e.Keywords)
	_, err = tx.Exec(ctx, `
		INSERT INTO semantic_memories
			(id, conversation_id, category, fact, keywords, search_text, embedding,
			 source_episodic_ids, valid_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8, $9, $9)`,
		id, cid, e.Category, e.Fact, e.Keywords, st, toVectorLiteral(embedding), sourceIDs, now)
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

func reinforce(ctx context.Context, tx pgx.Tx, factID uuid.UUID, newSourceIDs []uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE semantic_memories
		SET source_episodic_ids = (
			SELECT array_agg(DISTINCT e) FROM unnest(source_episodic_ids || $2::uuid[]) AS e
		)
		WHERE id = $1`, factID, newSourceIDs)
	if err != nil {
		return fmt.Errorf("reinforce: %w", err)
	}
	return nil
}
