package fsrs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_InitScalesStabilityBySurprise(t *testing.T) {
	t.Parallel()

	s := NewScheduler(0.9)

	lowStability, _ := s.Init(0.1)
	highStability, _ := s.Init(0.9)

	assert.Greater(t, highStability, lowStability)
	assert.GreaterOrEqual(t, lowStability, MinStability)
}

func TestScheduler_RetrievabilityDecaysOverTime(t *testing.T) {
	t.Parallel()

	s := NewScheduler(0.9)
	now := time.Now()

	fresh := s.Retrievability(5, now, now)
	aWeekLater := s.Retrievability(5, now, now.Add(7*24*time.Hour))
	aMonthLater := s.Retrievability(5, now, now.Add(30*24*time.Hour))

	require.InDelta(t, 1.0, fresh, 0.001)
	assert.Greater(t, fresh, aWeekLater)
	assert.Greater(t, aWeekLater, aMonthLater)
}

func TestScheduler_RetrievabilityNonPositiveStability(t *testing.T) {
	t.Parallel()

	s := NewScheduler(0.9)
	assert.Equal(t, 0.0, s.Retrievability(0, time.Now(), time.Now()))
}

func TestScheduler_ReviewRatingOrdering(t *testing.T) {
	t.Parallel()

	s := NewScheduler(0.9)
	stability, difficulty := s.Init(0.2)

	againStability, _ := s.Review(stability, difficulty, 3, Again)
	goodStability, _ := s.Review(stability, difficulty, 3, Good)
	easyStability, _ := s.Review(stability, difficulty, 3, Easy)

	assert.Less(t, againStability, goodStability)
	assert.LessOrEqual(t, goodStability, easyStability)
	assert.GreaterOrEqual(t, againStability, MinStability)
}

func TestScheduler_ReviewClampsNegativeElapsed(t *testing.T) {
	t.Parallel()

	s := NewScheduler(0.9)
	stability, difficulty := s.Init(0.2)

	stabilityNeg, _ := s.Review(stability, difficulty, -5, Good)
	stabilityZero, _ := s.Review(stability, difficulty, 0, Good)

	assert.Equal(t, stabilityZero, stabilityNeg)
}
