package semantic

import (
	"time"

	"github.com/google/uuid"
)

// Category enumerates the fixed set of semantic fact categories.
type Category string

const (
	CategoryIdentity     Category = "identity"
	CategoryPreference   Category = "preference"
	CategoryInterest     Category = "interest"
	CategoryPersonality  Category = "personality"
	CategoryRelationship Category = "relationship"
	CategoryExperience   Category = "experience"
	CategoryGoal         Category = "goal"
	CategoryGuideline    Category = "guideline"
)

// Memory is one stored semantic fact.
type Memory struct {
	ID                uuid.UUID
	ConversationID    uuid.UUID
	Category          Category
	Fact              string
	Keywords          []string
	SearchText        string
	Embedding         []float32
	SourceEpisodicIDs []uuid.UUID
	ValidAt           time.Time
	InvalidAt         *time.Time
	CreatedAt         time.Time
}

// Active reports whether the fact has not been soft-deleted.
func (m Memory) Active() bool { return m.InvalidAt == nil }
