// Package queue implements the per-conversation message queue: ordered
// message storage, the fence-protected segmentation trigger, and the
// pending-review mailbox that the reviewer later drains. Follows the
// transactional Postgres store idiom used elsewhere in this codebase
// (BeginTx / defer Rollback / Commit, raw SQL over JSONB columns); the
// fence itself is original design built in that same idiom.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is one immutable turn in a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingReview is a retrieval query awaiting attribution to the episodic
// memories it surfaced, recorded until the next segmentation run drains it.
type PendingReview struct {
	Query     string      `json:"query"`
	MemoryIDs []uuid.UUID `json:"memory_ids"`
}

// Config holds the trigger thresholds this queue evaluates on every push.
type Config struct {
	WindowBase  int
	WindowMax   int
	MinTrigger  int
	FenceTTL    time.Duration
	TimeTrigger time.Duration
}

// Queue is a Postgres-backed MessageQueue, one row per conversation.
type Queue struct {
	pool *pgxpool.Pool
	cfg  Config
}

// New builds a Queue over pool.
func New(pool *pgxpool.Pool, cfg Config) *Queue {
	return &Queue{pool: pool, cfg: cfg}
}

// PushResult reports what Push observed: the post-append message count, and
// whether this call won the fence CAS and should launch a SegmentationJob.
type PushResult struct {
	Count      int
	Fenced     bool
	FenceCount int
}

func jsonArrayWrap(b []byte) string { return "[" + string(b) + "]" }

// Push atomically appends message, clears any stale fence first, then
// evaluates the segmentation trigger and attempts the fence CAS if it fires.
func (q *Queue) Push(ctx context.Context, cid uuid.UUID, msg Message) (PushResult, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return PushResult{}, fmt.Errorf("push: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO message_queues (conversation_id) VALUES ($1)
		ON CONFLICT (conversation_id) DO NOTHING`, cid); err != nil {
		return PushResult{}, fmt.Errorf("push: ensure row: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE message_queues
		SET fence = NULL, fence_started_at = NULL
		WHERE conversation_id = $1 AND fence IS NOT NULL
		  AND fence_started_at < now() - ($2 || ' seconds')::interval`,
		cid, q.cfg.FenceTTL.Seconds()); err != nil {
		return PushResult{}, fmt.Errorf("push: clear stale fence: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return PushResult{}, fmt.Errorf("push: marshal message: %w", err)
	}

	var count int
	var fence *int
	var windowDoubled bool
	var oldestTS *time.Time
	err = tx.QueryRow(ctx, `
		UPDATE message_queues
		SET messages = messages || $2::jsonb
		WHERE conversation_id = $1
		RETURNING jsonb_array_length(messages), fence, window_doubled,
		          (messages->0->>'timestamp')::timestamptz`,
		cid, jsonArrayWrap(payload)).Scan(&count, &fence, &windowDoubled, &oldestTS)
	if err != nil {
		return PushResult{}, fmt.Errorf("push: append: %w", err)
	}

	res := PushResult{Count: count}
	if fence != nil {
		return res, tx.Commit(ctx)
	}

	threshold := q.cfg.WindowBase
	if windowDoubled {
		threshold = q.cfg.WindowMax
	}
	timeTriggered := oldestTS != nil && time.Since(*oldestTS) > q.cfg.TimeTrigger
	triggered := count >= q.cfg.MinTrigger && (count >= threshold || timeTriggered)
	if !triggered {
		return res, tx.Commit(ctx)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE message_queues SET fence = $2, fence_started_at = now()
		WHERE conversation_id = $1 AND fence IS NULL`, cid, count)
	if err != nil {
		return PushResult{}, fmt.Errorf("push: fence cas: %w", err)
	}
	if tag.RowsAffected() == 1 {
		res.Fenced = true
		res.FenceCount = count
	}
	return res, tx.Commit(ctx)
}

// Messages returns the full message slice currently queued for cid.
func (q *Queue) Messages(ctx context.Context, cid uuid.UUID) ([]Message, error) {
	var raw []byte
	err := q.pool.QueryRow(ctx, `SELECT messages FROM message_queues WHERE conversation_id = $1`, cid).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("messages: unmarshal: %w", err)
	}
	return msgs, nil
}

// Drain removes and returns the first n messages for cid.
func (q *Queue) Drain(ctx context.Context, cid uuid.UUID, n int) ([]Message, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("drain: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	if err := tx.QueryRow(ctx, `SELECT messages FROM message_queues WHERE conversation_id = $1 FOR UPDATE`, cid).Scan(&raw); err != nil {
		return nil, fmt.Errorf("drain: select: %w", err)
	}
	var all []Message
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("drain: unmarshal: %w", err)
	}
	if n > len(all) {
		n = len(all)
	}
	drained := all[:n]
	remaining := all[n:]

	remB, err := json.Marshal(remaining)
	if err != nil {
		return nil, fmt.Errorf("drain: marshal remaining: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE message_queues SET messages = $2::jsonb WHERE conversation_id = $1`, cid, remB); err != nil {
		return nil, fmt.Errorf("drain: update: %w", err)
	}
	return drained, tx.Commit(ctx)
}

// Finalize clears the fence and, when resetWindow is true, un-doubles the
// trigger window.
func (q *Queue) Finalize(ctx context.Context, cid uuid.UUID, resetWindow bool) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE message_queues
		SET fence = NULL, fence_started_at = NULL,
		    window_doubled = CASE WHEN $2 THEN false ELSE window_doubled END
		WHERE conversation_id = $1`, cid, resetWindow)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

// WindowDoubled reports the queue's current window_doubled flag.
func (q *Queue) WindowDoubled(ctx context.Context, cid uuid.UUID) (bool, error) {
	var doubled bool
	if err := q.pool.QueryRow(ctx, `SELECT window_doubled FROM message_queues WHERE conversation_id = $1`, cid).Scan(&doubled); err != nil {
		return false, fmt.Errorf("window doubled: %w", err)
	}
	return doubled, nil
}

// SetWindowDoubled sets the window_doubled flag directly (used by the
// segmentation engine's single-segment/not-yet-doubled case).
func (q *Queue) SetWindowDoubled(ctx context.Context, cid uuid.UUID, doubled bool) error {
	_, err := q.pool.Exec(ctx, `UPDATE message_queues SET window_doubled = $2 WHERE conversation_id = $1`, cid, doubled)
	if err != nil {
		return fmt.Errorf("set window doubled: %w", err)
	}
	return nil
}

// PrevEpisodeSummary returns the last finalized segment's summary, used as
// context for the next batch_segment call.
func (q *Queue) PrevEpisodeSummary(ctx context.Context, cid uuid.UUID) (string, error) {
	var s *string
	if err := q.pool.QueryRow(ctx, `SELECT prev_episode_summary FROM message_queues WHERE conversation_id = $1`, cid).Scan(&s); err != nil {
		return "", fmt.Errorf("prev episode summary: %w", err)
	}
	if s == nil {
		return "", nil
	}
	return *s, nil
}

// SetPrevEpisodeSummary records the most recently created episode's summary.
func (q *Queue) SetPrevEpisodeSummary(ctx context.Context, cid uuid.UUID, summary string) error {
	_, err := q.pool.Exec(ctx, `UPDATE message_queues SET prev_episode_summary = $2 WHERE conversation_id = $1`, cid, summary)
	if err != nil {
		return fmt.Errorf("set prev episode summary: %w", err)
	}
	return nil
}

// AppendPendingReview records a retrieval query and the episodic memory IDs
// it surfaced, for later attribution by the reviewer.
func (q *Queue) AppendPendingReview(ctx context.Context, cid uuid.UUID, review PendingReview) error {
	b, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("append pending review: marshal: %w", err)
	}
	_, err = q.pool.Exec(ctx, `
		INSERT INTO message_queues (conversation_id) VALUES ($1)
		ON CONFLICT (conversation_id) DO NOTHING`, cid)
	if err != nil {
		return fmt.Errorf("append pending review: ensure row: %w", err)
	}
	_, err = q.pool.Exec(ctx, `
		UPDATE message_queues SET pending_reviews = pending_reviews || $2::jsonb
		WHERE conversation_id = $1`, cid, jsonArrayWrap(b))
	if err != nil {
		return fmt.Errorf("append pending review: %w", err)
	}
	return nil
}

// TakePendingReviews atomically reads and clears the pending review mailbox.
func (q *Queue) TakePendingReviews(ctx context.Context, cid uuid.UUID) ([]PendingReview, error) {
	var raw []byte
	err := q.pool.QueryRow(ctx, `
		WITH old AS (
			SELECT pending_reviews FROM message_queues WHERE conversation_id = $1 FOR UPDATE
		)
		UPDATE message_queues SET pending_reviews = '[]'::jsonb
		WHERE conversation_id = $1
		RETURNING (SELECT pending_reviews FROM old)`, cid).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("take pending reviews: %w", err)
	}
	var reviews []PendingReview
	if err := json.Unmarshal(raw, &reviews); err != nil {
		return nil, fmt.Errorf("take pending reviews: unmarshal: %w", err)
	}
	return reviews, nil
}
