//go:build enterprise
// +build enterprise

// Package kafkajobs implements jobs.DedupeStore-backed dispatch over a
// single Kafka topic, for deployments that need dispatch to survive a
// memoryd process restart or to fan out across multiple instances. Grounded
// on internal/orchestrator/kafka.go's reader/worker-pool/DLQ shape, adapted
// from a command/reply envelope to a single JobEnvelope carrying one of the
// three job kinds.
package kafkajobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

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

// JobEnvelope is the wire format written to and read from the jobs topic.
type JobEnvelope struct {
	Type            jobs.JobType          `json:"type"`
	ConversationID  uuid.UUID             `json:"conversation_id"`
	FenceCount      int                   `json:"fence_count,omitempty"`
	Force           bool                  `json:"force,omitempty"`
	PendingReviews  []queue.PendingReview `json:"pending_reviews,omitempty"`
	ContextMessages []queue.Message       `json:"context_messages,omitempty"`
	ReviewedAt      time.Time             `json:"reviewed_at,omitempty"`
}

// Dispatcher publishes JobEnvelopes to a Kafka topic and, once Start is
// called, consumes them with a worker pool.
type Dispatcher struct {
	writer *kafka.Writer
	topic  string

	segmentation  SegmentationRunner
	review        ReviewRunner
	consolidation ConsolidationRunner

	dedupe    jobs.DedupeStore
	dedupeTTL time.Duration
}

// Config configures the Kafka-backed dispatcher.
type Config struct {
	Brokers     []string
	Topic       string
	GroupID     string
	Workers     int
	DedupeTTL   time.Duration
	MaxAttempts int
}

// New builds a Dispatcher that writes to cfg.Topic. Call Start to also begin
// consuming and running jobs from that topic.
func New(segmentation SegmentationRunner, review ReviewRunner, consolidation ConsolidationRunner, dedupe jobs.DedupeStore, cfg Config) *Dispatcher {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 10 * time.Minute
	}
	return &Dispatcher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		topic:         cfg.Topic,
		segmentation:  segmentation,
		review:        review,
		consolidation: consolidation,
		dedupe:        dedupe,
		dedupeTTL:     cfg.DedupeTTL,
	}
}

func (d *Dispatcher) publish(ctx context.Context, jt jobs.JobType, cid uuid.UUID, disambiguator string, env JobEnvelope) error {
	key := jobs.DedupeKey(jt, cid, disambiguator)
	if d.dedupe != nil {
		existing, err := d.dedupe.Get(ctx, key)
		if err == nil && existing != "" {
			return nil
		}
		_ = d.dedupe.Set(ctx, key, "dispatched", d.dedupeTTL)
	}
	env.Type = jt
	env.ConversationID = cid
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}
	return d.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload})
}

// DispatchSegmentation publishes one SegmentationJob.
func (d *Dispatcher) DispatchSegmentation(ctx context.Context, cid uuid.UUID, fenceCount int) error {
	return d.publish(ctx, jobs.JobSegmentation, cid, time.Now().String(), JobEnvelope{FenceCount: fenceCount})
}

// DispatchReview publishes one ReviewJob.
func (d *Dispatcher) DispatchReview(ctx context.Context, cid uuid.UUID, reviews []queue.PendingReview, contextMessages []queue.Message, reviewedAt time.Time) error {
	return d.publish(ctx, jobs.JobReview, cid, reviewedAt.String(), JobEnvelope{
		PendingReviews:  reviews,
		ContextMessages: contextMessages,
		ReviewedAt:      reviewedAt,
	})
}

// DispatchConsolidation publishes one ConsolidationJob.
func (d *Dispatcher) DispatchConsolidation(ctx context.Context, cid uuid.UUID, force bool) error {
	return d.publish(ctx, jobs.JobConsolidation, cid, time.Now().String(), JobEnvelope{Force: force})
}

// Start runs a reader/worker-pool consumer loop until ctx is canceled,
// committing each message only after it is handled (or sent to the DLQ
// topic after exhausting retries on a transient error).
func (d *Dispatcher) Start(ctx context.Context, cfg Config) error {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	log := observability.LoggerWithTrace(ctx)
	msgs := make(chan kafka.Message, cfg.Workers*4)

	var wg sync.WaitGroup
	wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go func() {
			defer wg.Done()
			for msg := range msgs {
				var lastErr error
				for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
					if err := d.handle(ctx, msg); err != nil {
						lastErr = err
						if attempt < cfg.MaxAttempts && ctx.Err() == nil {
							backoff := time.Duration(200*(1<<uint(attempt-1))) * time.Millisecond
							log.Warn().Int("attempt", attempt).Dur("backoff", backoff).Err(err).Msg("kafka_job_retry")
							timer := time.NewTimer(backoff)
							<-timer.C
							continue
						}
						d.publishDLQ(ctx, msg, attempt, lastErr)
					}
					break
				}
				if err := reader.CommitMessages(ctx, msg); err != nil {
					log.Error().Err(err).Msg("kafka_job_commit_failed")
				}
			}
		}()
	}

	for {
		if ctx.Err() != nil {
			break
		}
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			log.Warn().Err(err).Msg("kafka_job_fetch_error")
			continue
		}
		select {
		case msgs <- m:
		case <-ctx.Done():
		}
	}
	close(msgs)
	wg.Wait()
	return ctx.Err()
}

func (d *Dispatcher) handle(ctx context.Context, msg kafka.Message) error {
	var env JobEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return fmt.Errorf("unmarshal job envelope: %w", err)
	}
	switch env.Type {
	case jobs.JobSegmentation:
		return d.segmentation.Run(ctx, env.ConversationID, env.FenceCount)
	case jobs.JobReview:
		return d.review.Run(ctx, env.PendingReviews, env.ContextMessages, env.ReviewedAt)
	case jobs.JobConsolidation:
		return d.consolidation.Run(ctx, env.ConversationID, env.Force)
	default:
		return fmt.Errorf("unknown job type %q", env.Type)
	}
}

func (d *Dispatcher) publishDLQ(ctx context.Context, msg kafka.Message, attempts int, lastErr error) {
	log := observability.LoggerWithTrace(ctx)
	dlqTopic := d.topic + ".dlq"
	payload, _ := json.Marshal(map[string]any{
		"original_key": string(msg.Key),
		"error":        fmt.Sprintf("transient failure after %d attempts: %v", attempts, lastErr),
	})
	// d.writer has its Topic set, so the DLQ topic needs its own writer.
	dlq := &kafka.Writer{Addr: d.writer.Addr, Topic: dlqTopic, Balancer: &kafka.LeastBytes{}}
	defer dlq.Close()
	if err := dlq.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: payload}); err != nil {
		log.Error().Err(err).Str("dlq_topic", dlqTopic).Msg("kafka_job_dlq_publish_failed")
	}
}

// Close closes the underlying Kafka writer.
func (d *Dispatcher) Close() error {
	return d.writer.Close()
}
