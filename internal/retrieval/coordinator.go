// Package retrieval implements the coordinator that fans a query out to the
// semantic and episodic stores in parallel, records pending reviews, and
// renders the canonical Markdown tool-result format. Grounded on
// internal/rag/retrieve/api.go's RetrieveResponse/RetrievedItem shape,
// adapted from a single document corpus to the semantic+episodic split.
package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"memoryd/internal/episodic"
	"memoryd/internal/memerr"
	"memoryd/internal/queue"
	"memoryd/internal/semantic"
)

// DetailLevel controls how much episodic message detail the Markdown
// renderer includes.
type DetailLevel string

const (
	DetailAuto DetailLevel = "auto"
	DetailNone DetailLevel = "none"
	DetailLow  DetailLevel = "low"
	DetailHigh DetailLevel = "high"
)

func validDetailLevel(d DetailLevel) bool {
	switch d {
	case DetailAuto, DetailNone, DetailLow, DetailHigh:
		return true
	default:
		return false
	}
}

// Result is the raw (non-rendered) outcome of a retrieval.
type Result struct {
	Semantic []semantic.Scored
	Episodic []episodic.Scored
}

// semanticRetriever is the subset of *semantic.Store the coordinator drives.
type semanticRetriever interface {
	Retrieve(ctx context.Context, cid uuid.UUID, query string, limit int, category string) ([]semantic.Scored, error)
}

// episodicRetriever is the subset of *episodic.Store the coordinator drives.
type episodicRetriever interface {
	Retrieve(ctx context.Context, cid uuid.UUID, query string, limit int) ([]episodic.Scored, error)
	Recent(ctx context.Context, cid uuid.UUID, n int) ([]episodic.Memory, error)
}

// pendingReviewAppender is the subset of *queue.Queue the coordinator drives.
type pendingReviewAppender interface {
	AppendPendingReview(ctx context.Context, cid uuid.UUID, review queue.PendingReview) error
}

// Coordinator runs retrieve_memory and context_pre_retrieve.
type Coordinator struct {
	semantic semanticRetriever
	episodic episodicRetriever
	queue    pendingReviewAppender
}

// New builds a Coordinator. The three dependencies need only satisfy
// semanticRetriever, episodicRetriever, and pendingReviewAppender;
// *semantic.Store, *episodic.Store, and *queue.Queue all do.
func New(semanticStore semanticRetriever, episodicStore episodicRetriever, q pendingReviewAppender) *Coordinator {
	return &Coordinator{semantic: semanticStore, episodic: episodicStore, queue: q}
}

// RetrieveMemory runs semantic+episodic retrieval in parallel, records a
// pending review keyed by query and the episodic IDs it surfaced, and
// returns the raw result.
func (c *Coordinator) RetrieveMemory(ctx context.Context, cid uuid.UUID, query string, episodicLimit, semanticLimit int, category string) (Result, error) {
	if err := validateCategory(category); err != nil {
		return Result{}, err
	}
	res, err := c.retrieve(ctx, cid, query, episodicLimit, semanticLimit, category)
	if err != nil {
		return Result{}, err
	}

	memoryIDs := make([]uuid.UUID, len(res.Episodic))
	for i, e := range res.Episodic {
		memoryIDs[i] = e.Memory.ID
	}
	review := queue.PendingReview{Query: query, MemoryIDs: memoryIDs}
	if err := c.queue.AppendPendingReview(ctx, cid, review); err != nil {
		return Result{}, fmt.Errorf("retrieval: append pending review: %w", err)
	}
	return res, nil
}

// ContextPreRetrieve runs semantic-only retrieval with no pending-review
// side effect, for system-prompt priming at conversation turn start.
func (c *Coordinator) ContextPreRetrieve(ctx context.Context, cid uuid.UUID, query string, semanticLimit int, category string) ([]semantic.Scored, error) {
	if err := validateCategory(category); err != nil {
		return nil, err
	}
	facts, err := c.semantic.Retrieve(ctx, cid, query, semanticLimit, category)
	if err != nil {
		return nil, fmt.Errorf("retrieval: context pre-retrieve: %w", err)
	}
	return facts, nil
}

func (c *Coordinator) retrieve(ctx context.Context, cid uuid.UUID, query string, episodicLimit, semanticLimit int, category string) (Result, error) {
	var res Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		res.Semantic, err = c.semantic.Retrieve(gctx, cid, query, semanticLimit, category)
		return err
	})
	g.Go(func() error {
		var err error
		res.Episodic, err = c.episodic.Retrieve(gctx, cid, query, episodicLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("retrieval: retrieve: %w", err)
	}
	return res, nil
}

// Recent returns the n most recent episodic memories for cid, unranked by
// relevance (used by recent_memory / recent_memory/raw).
func (c *Coordinator) Recent(ctx context.Context, cid uuid.UUID, n int) ([]episodic.Memory, error) {
	mems, err := c.episodic.Recent(ctx, cid, n)
	if err != nil {
		return nil, fmt.Errorf("retrieval: recent: %w", err)
	}
	return mems, nil
}

// validateCategory rejects any category string outside the fixed semantic
// enum, unless empty (meaning "no filter").
func validateCategory(category string) error {
	if category == "" {
		return nil
	}
	switch semantic.Category(category) {
	case semantic.CategoryIdentity, semantic.CategoryPreference, semantic.CategoryInterest,
		semantic.CategoryPersonality, semantic.CategoryRelationship, semantic.CategoryExperience,
		semantic.CategoryGoal, semantic.CategoryGuideline:
		return nil
	default:
		return fmt.Errorf("%w: %q", memerr.ErrUnknownCategory, category)
	}
}

// ValidateDetailLevel rejects any detail level outside {auto,none,low,high};
// the HTTP layer calls this before choosing a render policy.
func ValidateDetailLevel(detail string) (DetailLevel, error) {
	d := DetailLevel(detail)
	if !validDetailLevel(d) {
		return "", fmt.Errorf("%w: %q", memerr.ErrUnknownDetailLevel, detail)
	}
	return d, nil
}
