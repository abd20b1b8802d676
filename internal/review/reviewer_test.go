package review

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryd/internal/episodic"
	"memoryd/internal/fsrs"
	"memoryd/internal/llm"
	"memoryd/internal/queue"
)

func TestRating_ToFSRS(t *testing.T) {
	t.Parallel()

	assert.Equal(t, fsrs.Again, ratingAgain.toFSRS())
	assert.Equal(t, fsrs.Hard, ratingHard.toFSRS())
	assert.Equal(t, fsrs.Good, ratingGood.toFSRS())
	assert.Equal(t, fsrs.Easy, ratingEasy.toFSRS())
}

func TestRating_ToFSRS_UnknownDefaultsToGood(t *testing.T) {
	t.Parallel()

	assert.Equal(t, fsrs.Good, rating("garbage").toFSRS())
}

func TestStale_OutOfOrderReviewIsStale(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	mem := episodic.Memory{LastReviewedAt: now}

	assert.True(t, stale(mem, now.Add(-time.Hour)))
	assert.True(t, stale(mem, now))
}

func TestStale_SameCalendarDayIsStale(t *testing.T) {
	t.Parallel()

	reviewed := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	mem := episodic.Memory{LastReviewedAt: time.Date(2026, 7, 30, 1, 0, 0, 0, time.UTC)}

	assert.True(t, stale(mem, reviewed))
}

func TestStale_NextCalendarDayIsNotStale(t *testing.T) {
	t.Parallel()

	reviewed := time.Date(2026, 7, 31, 0, 1, 0, 0, time.UTC)
	mem := episodic.Memory{LastReviewedAt: time.Date(2026, 7, 30, 23, 59, 0, 0, time.UTC)}

	assert.False(t, stale(mem, reviewed))
}

// fakeEpisodeRater is a test double for episodeRater.
type fakeEpisodeRater struct {
	byID map[uuid.UUID]episodic.Memory

	applyCalls []struct {
		id                    uuid.UUID
		stability, difficulty float64
		reviewedAt            time.Time
	}
}

func (f *fakeEpisodeRater) ByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]episodic.Memory, error) {
	out := make(map[uuid.UUID]episodic.Memory)
	for _, id := range ids {
		if mem, ok := f.byID[id]; ok {
			out[id] = mem
		}
	}
	return out, nil
}

func (f *fakeEpisodeRater) ApplyReview(ctx context.Context, id uuid.UUID, stability, difficulty float64, reviewedAt time.Time) error {
	f.applyCalls = append(f.applyCalls, struct {
		id                    uuid.UUID
		stability, difficulty float64
		reviewedAt            time.Time
	}{id, stability, difficulty, reviewedAt})
	return nil
}

// fakeRatingLLM answers review_memories calls with the canned rating of every
// memory ID in ratingsByID, in map iteration order.
type fakeRatingLLM struct {
	ratingsByID map[uuid.UUID]rating
	calls       int
}

func (f *fakeRatingLLM) Embed(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (f *fakeRatingLLM) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (f *fakeRatingLLM) Chat(ctx context.Context, msgs []llm.Message) (string, error) {
	return "", nil
}
func (f *fakeRatingLLM) GenerateStructured(ctx context.Context, msgs []llm.Message, schemaName string, schema map[string]any, out any) error {
	f.calls++
	resp := out.(*reviewResponse)
	for id, r := range f.ratingsByID {
		resp.Ratings = append(resp.Ratings, memoryRating{MemoryID: id, Rating: r})
	}
	return nil
}

func TestReviewer_Run_EmptyPendingReviewsIsNoOp(t *testing.T) {
	t.Parallel()

	llmFake := &fakeRatingLLM{}
	r := New(&fakeEpisodeRater{}, llmFake, fsrs.NewScheduler(0))

	err := r.Run(context.Background(), nil, nil, time.Now().UTC())

	require.NoError(t, err)
	assert.Zero(t, llmFake.calls)
}

func TestReviewer_Run_AppliesRatingForEachMatchedMemory(t *testing.T) {
	t.Parallel()

	reviewedAt := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	id := uuid.New()
	mem := episodic.Memory{
		ID:             id,
		Summary:        "a fact worth remembering",
		Stability:      1,
		Difficulty:     5,
		LastReviewedAt: reviewedAt.Add(-48 * time.Hour),
	}
	episodes := &fakeEpisodeRater{byID: map[uuid.UUID]episodic.Memory{id: mem}}
	llmFake := &fakeRatingLLM{ratingsByID: map[uuid.UUID]rating{id: ratingEasy}}
	r := New(episodes, llmFake, fsrs.NewScheduler(0))

	pending := []queue.PendingReview{{Query: "what do you remember", MemoryIDs: []uuid.UUID{id}}}
	err := r.Run(context.Background(), pending, nil, reviewedAt)

	require.NoError(t, err)
	assert.Equal(t, 1, llmFake.calls, "one structured rating call per Run")
	require.Len(t, episodes.applyCalls, 1)
	assert.Equal(t, id, episodes.applyCalls[0].id)
	assert.Equal(t, reviewedAt, episodes.applyCalls[0].reviewedAt)
}

func TestReviewer_Run_SkipsStaleMemoriesWithoutRatingCall(t *testing.T) {
	t.Parallel()

	reviewedAt := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	id := uuid.New()
	mem := episodic.Memory{ID: id, LastReviewedAt: reviewedAt}
	episodes := &fakeEpisodeRater{byID: map[uuid.UUID]episodic.Memory{id: mem}}
	llmFake := &fakeRatingLLM{}
	r := New(episodes, llmFake, fsrs.NewScheduler(0))

	pending := []queue.PendingReview{{Query: "q", MemoryIDs: []uuid.UUID{id}}}
	err := r.Run(context.Background(), pending, nil, reviewedAt)

	require.NoError(t, err)
	assert.Zero(t, llmFake.calls, "a fully stale candidate set never reaches the LLM")
	assert.Empty(t, episodes.applyCalls)
}

func TestReviewer_Run_DeduplicatesMemoryIDsAcrossPendingReviews(t *testing.T) {
	t.Parallel()

	reviewedAt := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	id := uuid.New()
	mem := episodic.Memory{ID: id, LastReviewedAt: reviewedAt.Add(-48 * time.Hour)}
	episodes := &fakeEpisodeRater{byID: map[uuid.UUID]episodic.Memory{id: mem}}
	llmFake := &fakeRatingLLM{ratingsByID: map[uuid.UUID]rating{id: ratingGood}}
	r := New(episodes, llmFake, fsrs.NewScheduler(0))

	pending := []queue.PendingReview{
		{Query: "q1", MemoryIDs: []uuid.UUID{id}},
		{Query: "q2", MemoryIDs: []uuid.UUID{id}},
	}
	err := r.Run(context.Background(), pending, nil, reviewedAt)

	require.NoError(t, err)
	require.Len(t, episodes.applyCalls, 1, "a memory matched by two queries is rated and applied once")
}
