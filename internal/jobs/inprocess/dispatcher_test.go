package inprocess

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryd/internal/queue"
)

type fakeSegmentationRunner struct {
	calls int32
	err   error
}

func (f *fakeSegmentationRunner) Run(ctx context.Context, cid uuid.UUID, fenceCount int) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

type fakeReviewRunner struct{ calls int32 }

func (f *fakeReviewRunner) Run(ctx context.Context, reviews []queue.PendingReview, contextMessages []queue.Message, reviewedAt time.Time) error {
	atomic.AddInt32(&f.calls, 1)
	return nil
}

type fakeConsolidationRunner struct{ calls int32 }

func (f *fakeConsolidationRunner) Run(ctx context.Context, cid uuid.UUID, force bool) error {
	atomic.AddInt32(&f.calls, 1)
	return nil
}

type fakeDedupeStore struct {
	mu   sync.Mutex
	seen map[string]string
	sets int32
	gets int32
}

func newFakeDedupeStore() *fakeDedupeStore {
	return &fakeDedupeStore{seen: make(map[string]string)}
}

func (f *fakeDedupeStore) Get(ctx context.Context, key string) (string, error) {
	atomic.AddInt32(&f.gets, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[key], nil
}

func (f *fakeDedupeStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	atomic.AddInt32(&f.sets, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[key] = value
	return nil
}

func TestDispatcher_DispatchSegmentationRunsJob(t *testing.T) {
	t.Parallel()

	runner := &fakeSegmentationRunner{}
	d := New(runner, &fakeReviewRunner{}, &fakeConsolidationRunner{}, nil, Config{Workers: 1})

	err := d.DispatchSegmentation(context.Background(), uuid.New(), 5)
	require.NoError(t, err)

	d.Shutdown(time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&runner.calls))
}

func TestDispatcher_RetriesOnFailureThenGivesUp(t *testing.T) {
	t.Parallel()

	runner := &fakeSegmentationRunner{err: errors.New("transient")}
	d := New(runner, &fakeReviewRunner{}, &fakeConsolidationRunner{}, nil, Config{
		Workers: 1, MaxAttempts: 3, BaseBackoff: time.Millisecond,
	})

	err := d.DispatchSegmentation(context.Background(), uuid.New(), 1)
	require.NoError(t, err)

	d.Shutdown(time.Second)
	assert.EqualValues(t, 3, atomic.LoadInt32(&runner.calls))
}

func TestDispatcher_DedupeSkipsAlreadyDispatchedKey(t *testing.T) {
	t.Parallel()

	review := &fakeReviewRunner{}
	dedupe := newFakeDedupeStore()
	d := New(&fakeSegmentationRunner{}, review, &fakeConsolidationRunner{}, dedupe, Config{Workers: 1})

	cid := uuid.New()
	ctx := context.Background()
	reviewedAt := time.Unix(0, 0)

	require.NoError(t, d.DispatchReview(ctx, cid, nil, nil, reviewedAt))
	require.NoError(t, d.DispatchReview(ctx, cid, nil, nil, reviewedAt))

	d.Shutdown(time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&review.calls))
}

func TestDispatcher_ShutdownStopsAcceptingAfterDrain(t *testing.T) {
	t.Parallel()

	runner := &fakeSegmentationRunner{}
	d := New(runner, &fakeReviewRunner{}, &fakeConsolidationRunner{}, nil, Config{Workers: 2})

	for i := 0; i < 5; i++ {
		require.NoError(t, d.DispatchSegmentation(context.Background(), uuid.New(), i))
	}

	d.Shutdown(2 * time.Second)
	assert.EqualValues(t, 5, atomic.LoadInt32(&runner.calls))
}
