// Package fsrs wraps a vetted FSRS-4/5 implementation for episodic memory
// scheduling, rather than re-deriving the scheduling math.
package fsrs

import (
	"math"
	"time"

	gofsrs "github.com/open-spaced-repetition/go-fsrs/v3"
)

// MinStability is the floor every stability value is clamped to, matching
// the library's own minimum stability guard.
const MinStability = 0.01

// Rating is reviewer feedback on a retrieved episodic memory.
type Rating int

const (
	Again Rating = iota + 1
	Hard
	Good
	Easy
)

func toLibRating(r Rating) gofsrs.Rating {
	switch r {
	case Again:
		return gofsrs.Again
	case Hard:
		return gofsrs.Hard
	case Easy:
		return gofsrs.Easy
	default:
		return gofsrs.Good
	}
}

// Scheduler computes FSRS state transitions for episodic memories.
type Scheduler struct {
	fsrs gofsrs.FSRS
}

// NewScheduler builds a Scheduler targeting desiredRetention (default 0.9 if
// zero or negative).
func NewScheduler(desiredRetention float64) *Scheduler {
	params := gofsrs.DefaultParam()
	if desiredRetention > 0 {
		params.RequestRetention = desiredRetention
	}
	return &Scheduler{fsrs: gofsrs.NewFSRS(params)}
}

// Init computes the initial (stability, difficulty) for a freshly segmented
// episode, scaling the library's default first-review stability by the
// segment's surprise score.
func (s *Scheduler) Init(surprise float64) (stability, difficulty float64) {
	card := gofsrs.NewCard()
	schedule := s.fsrs.Repeat(card, time.Now())
	info := schedule[gofsrs.Good]
	stability = math.Max(info.Card.Stability*(1+surprise*0.5), MinStability)
	difficulty = info.Card.Difficulty
	return stability, difficulty
}

// Retrievability returns the library's monotone-decreasing recall
// probability for a memory with the given stability, as of now: 1.0 when
// now == lastReviewed, asymptotic to 0 as the gap grows. Uses the FSRS-4.5
// closed-form forgetting curve directly since the library exposes this
// constant set (not a callable API) per card.
func (s *Scheduler) Retrievability(stability float64, lastReviewed, now time.Time) float64 {
	if stability <= 0 {
		return 0
	}
	elapsedDays := now.Sub(lastReviewed).Hours() / 24
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	const decay = -0.5
	factor := math.Pow(0.9, 1/decay) - 1
	return math.Pow(1+factor*elapsedDays/stability, decay)
}

// Review applies rating to (stability, difficulty) given the number of days
// elapsed since the memory's last review, returning the updated pair.
func (s *Scheduler) Review(stability, difficulty, daysElapsed float64, rating Rating) (newStability, newDifficulty float64) {
	if daysElapsed < 0 {
		daysElapsed = 0
	}
	card := gofsrs.Card{
		Stability:   stability,
		Difficulty:  difficulty,
		ElapsedDays: uint64(math.Round(daysElapsed)),
		State:       gofsrs.Review,
	}
	schedule := s.fsrs.Repeat(card, time.Now())
	info := schedule[toLibRating(rating)]
	return math.Max(info.Card.Stability, MinStability), info.Card.Difficulty
}
