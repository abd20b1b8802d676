package store

import "github.com/google/uuid"

// RankedID is a single hit from either the full-text or vector search path,
// before fusion. Rank is 1-based position within its own source ranking.
type RankedID struct {
	ID    uuid.UUID
	Score float64
	Rank  int
}
