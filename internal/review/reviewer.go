// Package review implements the memory reviewer: it turns a batch of
// retrieval pending-reviews into FSRS rating feedback and persists the
// resulting scheduling transitions. Grounded on
// internal/agent/memory/remem.go's structured-call-then-apply pattern.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"memoryd/internal/episodic"
	"memoryd/internal/fsrs"
	"memoryd/internal/llm"
	"memoryd/internal/memerr"
	"memoryd/internal/observability"
	"memoryd/internal/queue"
)

type rating string

const (
	ratingAgain rating = "again"
	ratingHard  rating = "hard"
	ratingGood  rating = "good"
	ratingEasy  rating = "easy"
)

func (r rating) toFSRS() fsrs.Rating {
	switch r {
	case ratingAgain:
		return fsrs.Again
	case ratingHard:
		return fsrs.Hard
	case ratingEasy:
		return fsrs.Easy
	default:
		return fsrs.Good
	}
}

type memoryRating struct {
	MemoryID uuid.UUID `json:"memory_id"`
	Rating   rating    `json:"rating"`
}

type reviewResponse struct {
	Ratings []memoryRating `json:"ratings"`
}

var reviewSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"ratings": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"memory_id": map[string]any{"type": "string"},
					"rating":    map[string]any{"type": "string", "enum": []any{"again", "hard", "good", "easy"}},
				},
			},
		},
	},
}

// episodeRater is the subset of *episodic.Store the reviewer drives,
// extracted as an interface so the rating/staleness orchestration can be
// exercised against a fake in tests.
type episodeRater interface {
	ByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]episodic.Memory, error)
	ApplyReview(ctx context.Context, id uuid.UUID, stability, difficulty float64, reviewedAt time.Time) error
}

// Reviewer runs ReviewJob.
type Reviewer struct {
	episodes  episodeRater
	llmClient llm.Client
	scheduler *fsrs.Scheduler
}

// New builds a Reviewer. episodes need only satisfy episodeRater;
// *episodic.Store does.
func New(episodes episodeRater, llmClient llm.Client, scheduler *fsrs.Scheduler) *Reviewer {
	return &Reviewer{episodes: episodes, llmClient: llmClient, scheduler: scheduler}
}

// Run aggregates pendingReviews by memory ID, drops entries already reviewed
// today (or out-of-order relative to their own last_reviewed_at), issues one
// structured LLM rating call, and applies each resulting FSRS transition.
func (r *Reviewer) Run(ctx context.Context, pendingReviews []queue.PendingReview, contextMessages []queue.Message, reviewedAt time.Time) error {
	log := observability.LoggerWithTrace(ctx)
	if len(pendingReviews) == 0 {
		return nil
	}

	matchedQueries := make(map[uuid.UUID][]string)
	var order []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, pr := range pendingReviews {
		for _, id := range pr.MemoryIDs {
			matchedQueries[id] = append(matchedQueries[id], pr.Query)
			if !seen[id] {
				seen[id] = true
				order = append(order, id)
			}
		}
	}
	if len(order) == 0 {
		return nil
	}

	memories, err := r.episodes.ByIDs(ctx, order)
	if err != nil {
		return fmt.Errorf("review: load memories: %w", err)
	}

	candidates := make([]episodic.Memory, 0, len(order))
	for _, id := range order {
		mem, ok := memories[id]
		if !ok {
			continue
		}
		if stale(mem, reviewedAt) {
			log.Warn().Str("memory_id", id.String()).Err(memerr.ErrAlreadyReviewedToday).Msg("skipping stale review")
			continue
		}
		candidates = append(candidates, mem)
	}
	if len(candidates) == 0 {
		return nil
	}

	ratings, err := r.rateMemories(ctx, candidates, matchedQueries, contextMessages)
	if err != nil {
		return fmt.Errorf("review: rate memories: %w", err)
	}

	for _, mr := range ratings {
		mem, ok := memories[mr.MemoryID]
		if !ok {
			continue
		}
		if stale(mem, reviewedAt) {
			continue
		}
		daysElapsed := reviewedAt.Sub(mem.LastReviewedAt).Hours() / 24
		newStability, newDifficulty := r.scheduler.Review(mem.Stability, mem.Difficulty, daysElapsed, mr.Rating.toFSRS())
		if err := r.episodes.ApplyReview(ctx, mem.ID, newStability, newDifficulty, reviewedAt); err != nil {
			return fmt.Errorf("review: apply review for %s: %w", mem.ID, err)
		}
	}
	return nil
}

// stale reports whether a review should be skipped: out-of-order review, or a
// review already applied within the same UTC calendar day.
func stale(mem episodic.Memory, reviewedAt time.Time) bool {
	if !reviewedAt.After(mem.LastReviewedAt) {
		return true
	}
	ry, rm, rd := reviewedAt.UTC().Date()
	ly, lm, ld := mem.LastReviewedAt.UTC().Date()
	return ry == ly && rm == lm && rd == ld
}

func (r *Reviewer) rateMemories(ctx context.Context, candidates []episodic.Memory, matchedQueries map[uuid.UUID][]string, contextMessages []queue.Message) ([]memoryRating, error) {
	sys := "You grade how useful each retrieved memory was for the conversation context given. " +
		"again = not used, hard = required inference to connect, good = directly used, easy = load-bearing for the response."

	type memoryInput struct {
		MemoryID string   `json:"memory_id"`
		Summary  string   `json:"summary"`
		Queries  []string `json:"matched_queries"`
	}
	payload := struct {
		ContextMessages []queue.Message `json:"context_messages"`
		Memories        []memoryInput   `json:"memories"`
	}{ContextMessages: contextMessages}
	for _, mem := range candidates {
		payload.Memories = append(payload.Memories, memoryInput{
			MemoryID: mem.ID.String(), Summary: mem.Summary, Queries: matchedQueries[mem.ID],
		})
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal review payload: %w", err)
	}

	msgs := []llm.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: string(b)},
	}
	var resp reviewResponse
	schema := llm.NormalizeSchema(reviewSchema)
	if err := r.llmClient.GenerateStructured(ctx, msgs, "review_memories", schema, &resp); err != nil {
		return nil, err
	}
	return resp.Ratings, nil
}
