// Package segmentation implements the segmentation job: deciding when a
// drained window of messages becomes one or more episodic memories. Grounded
// on internal/agent/memory/remem.go's structured-call-then-switch-on-action
// dispatch style, adapted to switch on returned segment count rather than a
// ReMem action.
package segmentation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"memoryd/internal/episodic"
	"memoryd/internal/llm"
	"memoryd/internal/observability"
	"memoryd/internal/queue"
)

// surpriseLevel is the LLM-facing coarse surprise bucket, mapped to a
// numeric surprise score consumed by FSRS initialization.
type surpriseLevel string

const (
	surpriseLow              surpriseLevel = "low"
	surpriseHigh             surpriseLevel = "high"
	surpriseExtremelyHigh    surpriseLevel = "extremely_high"
	flashbulbSurpriseScore                = 0.85
	minUnconsolidatedTrigger               = 3
)

func surpriseScore(l surpriseLevel) float64 {
	switch l {
	case surpriseHigh:
		return 0.6
	case surpriseExtremelyHigh:
		return 0.9
	default:
		return 0.2
	}
}

type segment struct {
	StartIdx      int           `json:"start_idx"`
	EndIdx        int           `json:"end_idx"`
	Title         string        `json:"title"`
	Summary       string        `json:"summary"`
	SurpriseLevel surpriseLevel `json:"surprise_level"`
}

type batchSegmentResponse struct {
	Segments []segment `json:"segments"`
}

var batchSegmentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"segments": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start_idx":      map[string]any{"type": "integer"},
					"end_idx":        map[string]any{"type": "integer"},
					"title":          map[string]any{"type": "string"},
					"summary":        map[string]any{"type": "string"},
					"surprise_level": map[string]any{"type": "string", "enum": []any{"low", "high", "extremely_high"}},
				},
			},
		},
	},
}

// ReviewDispatcher hands off a drained review job to the worker pool.
type ReviewDispatcher interface {
	DispatchReview(ctx context.Context, cid uuid.UUID, reviews []queue.PendingReview, contextMessages []queue.Message, reviewedAt time.Time) error
}

// ConsolidationDispatcher hands off a consolidation job to the worker pool.
type ConsolidationDispatcher interface {
	DispatchConsolidation(ctx context.Context, cid uuid.UUID, force bool) error
}

// messageQueue is the subset of *queue.Queue the engine drives. Extracted as
// an interface so the orchestration logic can be exercised against a fake
// connector in tests, rather than requiring a live database.
type messageQueue interface {
	Messages(ctx context.Context, cid uuid.UUID) ([]queue.Message, error)
	PrevEpisodeSummary(ctx context.Context, cid uuid.UUID) (string, error)
	Finalize(ctx context.Context, cid uuid.UUID, resetWindow bool) error
	WindowDoubled(ctx context.Context, cid uuid.UUID) (bool, error)
	SetWindowDoubled(ctx context.Context, cid uuid.UUID, doubled bool) error
	Drain(ctx context.Context, cid uuid.UUID, n int) ([]queue.Message, error)
	SetPrevEpisodeSummary(ctx context.Context, cid uuid.UUID, summary string) error
	TakePendingReviews(ctx context.Context, cid uuid.UUID) ([]queue.PendingReview, error)
}

// episodeStore is the subset of *episodic.Store the engine drives.
type episodeStore interface {
	Create(ctx context.Context, cid uuid.UUID, messages []queue.Message, title, summary string, surprise float64) (*episodic.Memory, error)
	UnconsolidatedCount(ctx context.Context, cid uuid.UUID) (int, error)
}

// Engine runs SegmentationJob.
type Engine struct {
	q            messageQueue
	episodes     episodeStore
	llmClient    llm.Client
	reviews      ReviewDispatcher
	consolidator ConsolidationDispatcher
}

// New builds an Engine. q and episodes need only satisfy messageQueue and
// episodeStore; *queue.Queue and *episodic.Store both do.
func New(q messageQueue, episodes episodeStore, llmClient llm.Client, reviews ReviewDispatcher, consolidator ConsolidationDispatcher) *Engine {
	return &Engine{q: q, episodes: episodes, llmClient: llmClient, reviews: reviews, consolidator: consolidator}
}

// Run executes one SegmentationJob for cid. fenceCount is the message count
// observed at the moment the fence was won; if the queue has since shrunk
// below it, the job is stale and is finalized as a no-op.
func (e *Engine) Run(ctx context.Context, cid uuid.UUID, fenceCount int) error {
	log := observability.LoggerWithTrace(ctx)

	msgs, err := e.q.Messages(ctx, cid)
	if err != nil {
		return fmt.Errorf("segmentation: load messages: %w", err)
	}
	if len(msgs) < fenceCount {
		log.Warn().Int("queued", len(msgs)).Int("fence_count", fenceCount).Msg("stale segmentation job")
		return e.q.Finalize(ctx, cid, false)
	}

	prevSummary, err := e.q.PrevEpisodeSummary(ctx, cid)
	if err != nil {
		return fmt.Errorf("segmentation: prev episode summary: %w", err)
	}

	segments, err := e.batchSegment(ctx, msgs[:fenceCount], prevSummary)
	if err != nil {
		return fmt.Errorf("segmentation: batch segment: %w", err)
	}
	if len(segments) == 0 {
		return e.q.Finalize(ctx, cid, false)
	}

	var created []*episodic.Memory
	switch {
	case len(segments) == 1:
		created, err = e.runSingleSegment(ctx, cid, fenceCount, segments[0])
	default:
		created, err = e.runMultiSegment(ctx, cid, segments)
	}
	if err != nil {
		return err
	}

	if err := e.dispatchPendingReviews(ctx, cid, msgs); err != nil {
		log.Error().Err(err).Msg("dispatch pending reviews failed")
	}

	for _, ep := range created {
		e.maybeConsolidate(ctx, cid, ep)
	}
	return nil
}

// runSingleSegment implements the window_doubled escalation and the
// already-doubled single-episode case.
func (e *Engine) runSingleSegment(ctx context.Context, cid uuid.UUID, fenceCount int, seg segment) ([]*episodic.Memory, error) {
	doubled, err := e.q.WindowDoubled(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("segmentation: window doubled: %w", err)
	}
	if !doubled {
		if err := e.q.SetWindowDoubled(ctx, cid, true); err != nil {
			return nil, fmt.Errorf("segmentation: set window doubled: %w", err)
		}
		return nil, e.q.Finalize(ctx, cid, false)
	}

	drained, err := e.q.Drain(ctx, cid, fenceCount)
	if err != nil {
		return nil, fmt.Errorf("segmentation: drain: %w", err)
	}
	if err := e.q.Finalize(ctx, cid, true); err != nil {
		return nil, fmt.Errorf("segmentation: finalize: %w", err)
	}

	ep, err := e.createEpisode(ctx, cid, drained, seg)
	if err != nil {
		return nil, err
	}
	if err := e.q.SetPrevEpisodeSummary(ctx, cid, ep.Summary); err != nil {
		return nil, fmt.Errorf("segmentation: set prev episode summary: %w", err)
	}
	return []*episodic.Memory{ep}, nil
}

// runMultiSegment drains all but the last segment and creates N-1 episodes
// in parallel. The last segment's messages remain queued as the seed of the
// next event context.
func (e *Engine) runMultiSegment(ctx context.Context, cid uuid.UUID, segments []segment) ([]*episodic.Memory, error) {
	toDrain := segments[:len(segments)-1]
	total := 0
	for _, s := range toDrain {
		total += s.EndIdx - s.StartIdx
	}

	drained, err := e.q.Drain(ctx, cid, total)
	if err != nil {
		return nil, fmt.Errorf("segmentation: drain: %w", err)
	}
	if err := e.q.Finalize(ctx, cid, true); err != nil {
		return nil, fmt.Errorf("segmentation: finalize: %w", err)
	}

	created := make([]*episodic.Memory, len(toDrain))
	g, gctx := errgroup.WithContext(ctx)
	for i, seg := range toDrain {
		i, seg := i, seg
		g.Go(func() error {
			segMsgs := drained[seg.StartIdx:seg.EndIdx]
			ep, err := e.createEpisode(gctx, cid, segMsgs, seg)
			if err != nil {
				return err
			}
			created[i] = ep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("segmentation: create episodes: %w", err)
	}

	if err := e.q.SetPrevEpisodeSummary(ctx, cid, created[len(created)-1].Summary); err != nil {
		return nil, fmt.Errorf("segmentation: set prev episode summary: %w", err)
	}
	return created, nil
}

func (e *Engine) createEpisode(ctx context.Context, cid uuid.UUID, msgs []queue.Message, seg segment) (*episodic.Memory, error) {
	return e.episodes.Create(ctx, cid, msgs, seg.Title, seg.Summary, surpriseScore(seg.SurpriseLevel))
}

func (e *Engine) dispatchPendingReviews(ctx context.Context, cid uuid.UUID, contextMessages []queue.Message) error {
	reviews, err := e.q.TakePendingReviews(ctx, cid)
	if err != nil {
		return fmt.Errorf("take pending reviews: %w", err)
	}
	if len(reviews) == 0 {
		return nil
	}
	return e.reviews.DispatchReview(ctx, cid, reviews, contextMessages, time.Now().UTC())
}

// maybeConsolidate decides and dispatches semantic consolidation per a newly
// created episode: a flashbulb surprise forces it; otherwise it is gated on
// the unconsolidated episode count.
func (e *Engine) maybeConsolidate(ctx context.Context, cid uuid.UUID, ep *episodic.Memory) {
	log := observability.LoggerWithTrace(ctx)
	force := ep.Surprise >= flashbulbSurpriseScore
	if !force {
		n, err := e.episodes.UnconsolidatedCount(ctx, cid)
		if err != nil {
			log.Error().Err(err).Msg("unconsolidated count failed")
			return
		}
		if n < minUnconsolidatedTrigger {
			return
		}
	}
	if err := e.consolidator.DispatchConsolidation(ctx, cid, force); err != nil {
		log.Error().Err(err).Msg("dispatch consolidation failed")
	}
}

// batchSegment issues the single structured LLM call that splits the fenced
// window into contiguous, non-overlapping segments.
func (e *Engine) batchSegment(ctx context.Context, msgs []queue.Message, prevEpisodeSummary string) ([]segment, error) {
	sys := "You split a window of conversation messages into one or more coherent episodes. " +
		"Segments must be contiguous, ordered, and cover the entire window without overlap or gaps. " +
		"Rate each segment's surprise_level as low, high, or extremely_high based on how novel or " +
		"emotionally significant it is relative to prior context."

	payload := struct {
		PrevEpisodeSummary string          `json:"prev_episode_summary,omitempty"`
		Messages           []queue.Message `json:"messages"`
	}{PrevEpisodeSummary: prevEpisodeSummary, Messages: msgs}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal batch segment payload: %w", err)
	}

	llmMsgs := []llm.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: string(b)},
	}
	var resp batchSegmentResponse
	schema := llm.NormalizeSchema(batchSegmentSchema)
	if err := e.llmClient.GenerateStructured(ctx, llmMsgs, "batch_segment", schema, &resp); err != nil {
		return nil, err
	}
	return resp.Segments, nil
}
