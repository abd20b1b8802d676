// Package jobs defines the job dispatch contract shared by the in-process
// and Kafka-backed worker pools: segmentation, review, and consolidation are
// each dispatched as independent units of background work, retried
// at-least-once, and deduplicated via an idempotency store. Grounded on
// internal/orchestrator/kafka.go's worker-pool/retry/DLQ shape and
// internal/orchestrator/dedupe.go's DedupeStore interface.
package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DedupeStore provides idempotency storage: Set a correlation key once a job
// starts, and skip redispatch if Get finds it still live within its TTL.
type DedupeStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// JobType names a dispatchable unit of background work.
type JobType string

const (
	JobSegmentation  JobType = "segmentation"
	JobReview        JobType = "review"
	JobConsolidation JobType = "consolidation"
)

// DedupeKey builds the idempotency key for one dispatch of jt against cid,
// disambiguated by disambiguator (the dispatchers pass the dispatch time for
// segmentation and consolidation, and the review time for review) so two
// distinct dispatches of the same type for the same conversation don't collide.
func DedupeKey(jt JobType, cid uuid.UUID, disambiguator string) string {
	h := sha256.Sum256([]byte(disambiguator))
	return fmt.Sprintf("memoryd:job:%s:%s:%s", jt, cid, hex.EncodeToString(h[:8]))
}
