// Package memerr defines the sentinel error taxonomy shared by every memory
// pipeline component.
package memerr

import "errors"

var (
	// ErrQueueNotFound is returned when a conversation has no message queue row yet.
	ErrQueueNotFound = errors.New("memoryd: message queue not found")

	// ErrFenceHeld is returned when a caller attempts to start a segmentation
	// job while another one already holds the fence. Contention is expected
	// and silent; most callers should not surface this.
	ErrFenceHeld = errors.New("memoryd: segmentation fence already held")

	// ErrStaleJob is returned when a job's precondition no longer holds
	// (fence count exceeds the current queue, or the unconsolidated set has
	// shrunk below threshold). Stale jobs finalize and exit without error to
	// the caller; this sentinel exists so internal retries can distinguish
	// the case from a genuine failure.
	ErrStaleJob = errors.New("memoryd: job precondition no longer holds")

	// ErrAlreadyReviewedToday signals the FSRS stale-skip guard fired.
	ErrAlreadyReviewedToday = errors.New("memoryd: memory already reviewed today")

	// ErrMemoryNotFound is returned when an episodic or semantic memory id
	// does not resolve to a row.
	ErrMemoryNotFound = errors.New("memoryd: memory not found")

	// ErrUnknownCategory is a validation error for an unrecognized semantic category.
	ErrUnknownCategory = errors.New("memoryd: unknown category")

	// ErrUnknownDetailLevel is a validation error for a detail level outside {auto,none,low,high}.
	ErrUnknownDetailLevel = errors.New("memoryd: unknown detail level")

	// ErrSchemaMismatch is fatal: the LLM's structured output did not match
	// the expected schema even after a jsonrepair retry.
	ErrSchemaMismatch = errors.New("memoryd: structured output schema mismatch")

	// ErrHallucinatedFact marks an action referencing an existing_fact_id
	// that was not part of the predict set; callers demote rather than fail.
	ErrHallucinatedFact = errors.New("memoryd: fact action referenced an unknown existing fact")
)
