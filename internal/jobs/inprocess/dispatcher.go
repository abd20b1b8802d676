// Package inprocess implements a single-node jobs.Dispatcher backed by a
// buffered channel and a fixed worker pool, with bounded retry and
// exponential backoff on transient failure. Grounded on
// internal/orchestrator/kafka.go's worker-pool/retry loop, adapted from
// consuming a Kafka topic to draining an in-memory channel.
package inprocess

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"memoryd/internal/jobs"
	"memoryd/internal/observability"
	"memoryd/internal/queue"
)

// SegmentationRunner runs one SegmentationJob.
type SegmentationRunner interface {
	Run(ctx context.Context, cid uuid.UUID, fenceCount int) error
}

// ReviewRunner runs one ReviewJob.
type ReviewRunner interface {
	Run(ctx context.Context, pendingReviews []queue.PendingReview, contextMessages []queue.Message, reviewedAt time.Time) error
}

// ConsolidationRunner runs one ConsolidationJob.
type ConsolidationRunner interface {
	Run(ctx context.Context, cid uuid.UUID, force bool) error
}

type task struct {
	key string
	run func(ctx context.Context) error
}

// Dispatcher is a bounded worker pool over a single job queue. It implements
// segmentation.ReviewDispatcher, segmentation.ConsolidationDispatcher, and
// the HTTP layer's segmentation dispatcher interface, so one value wires every
// background job type emitted by the memory pipeline.
type Dispatcher struct {
	segmentation  SegmentationRunner
	review        ReviewRunner
	consolidation ConsolidationRunner

	dedupe    jobs.DedupeStore
	dedupeTTL time.Duration

	tasks chan task
	done  chan struct{}
	wg    sync.WaitGroup
}

// Config tunes the worker pool.
type Config struct {
	Workers     int
	QueueSize   int
	DedupeTTL   time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
}

// New builds and starts a Dispatcher. dedupe may be nil, disabling
// idempotency tracking (acceptable for single-instance deployments where the
// precondition checks inside each job already make retries safe).
func New(segmentation SegmentationRunner, review ReviewRunner, consolidation ConsolidationRunner, dedupe jobs.DedupeStore, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 16
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	d := &Dispatcher{
		segmentation: segmentation, review: review, consolidation: consolidation,
		dedupe: dedupe, dedupeTTL: cfg.DedupeTTL,
		tasks: make(chan task, cfg.QueueSize), done: make(chan struct{}),
	}
	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker(cfg.MaxAttempts, cfg.BaseBackoff)
	}
	go func() {
		d.wg.Wait()
		close(d.done)
	}()
	return d
}

func (d *Dispatcher) worker(maxAttempts int, baseBackoff time.Duration) {
	defer d.wg.Done()
	log := observability.LoggerWithTrace(context.Background())
	for t := range d.tasks {
		ctx := context.Background()
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			if err := t.run(ctx); err != nil {
				lastErr = err
				if attempt < maxAttempts {
					backoff := baseBackoff * time.Duration(1<<uint(attempt-1))
					log.Warn().Str("job_key", t.key).Int("attempt", attempt).Dur("backoff", backoff).Err(err).Msg("job_retry")
					time.Sleep(backoff)
					continue
				}
				log.Error().Str("job_key", t.key).Int("attempts", attempt).Err(err).Msg("job_failed_exhausted")
			}
			break
		}
		_ = lastErr
	}
}

// submit enqueues run under key, skipping dispatch if dedupe reports key is
// already in flight.
func (d *Dispatcher) submit(ctx context.Context, jt jobs.JobType, cid uuid.UUID, disambiguator string, run func(ctx context.Context) error) error {
	key := jobs.DedupeKey(jt, cid, disambiguator)
	if d.dedupe != nil {
		existing, err := d.dedupe.Get(ctx, key)
		if err == nil && existing != "" {
			return nil
		}
		_ = d.dedupe.Set(ctx, key, "dispatched", d.dedupeTTL)
	}
	select {
	case d.tasks <- task{key: key, run: run}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchSegmentation enqueues one SegmentationJob.
func (d *Dispatcher) DispatchSegmentation(ctx context.Context, cid uuid.UUID, fenceCount int) error {
	return d.submit(ctx, jobs.JobSegmentation, cid, time.Now().String(), func(ctx context.Context) error {
		return d.segmentation.Run(ctx, cid, fenceCount)
	})
}

// DispatchReview enqueues one ReviewJob.
func (d *Dispatcher) DispatchReview(ctx context.Context, cid uuid.UUID, reviews []queue.PendingReview, contextMessages []queue.Message, reviewedAt time.Time) error {
	return d.submit(ctx, jobs.JobReview, cid, reviewedAt.String(), func(ctx context.Context) error {
		return d.review.Run(ctx, reviews, contextMessages, reviewedAt)
	})
}

// DispatchConsolidation enqueues one ConsolidationJob.
func (d *Dispatcher) DispatchConsolidation(ctx context.Context, cid uuid.UUID, force bool) error {
	return d.submit(ctx, jobs.JobConsolidation, cid, time.Now().String(), func(ctx context.Context) error {
		return d.consolidation.Run(ctx, cid, force)
	})
}

// Shutdown stops accepting new jobs and waits up to grace for the in-flight
// queue to drain.
func (d *Dispatcher) Shutdown(grace time.Duration) {
	close(d.tasks)
	select {
	case <-d.done:
	case <-time.After(grace):
	}
}
