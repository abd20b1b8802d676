package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingClient counts Embed/EmbedBatch calls so tests can assert the cache
// actually suppressed a round trip, rather than just returning plausible data.
type countingClient struct {
	embedCalls      int
	embedBatchCalls int
	vector          []float32
}

func (c *countingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embedCalls++
	return c.vector, nil
}

func (c *countingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.embedBatchCalls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = c.vector
	}
	return out, nil
}

func (c *countingClient) Chat(ctx context.Context, msgs []Message) (string, error) {
	return "", nil
}

func (c *countingClient) GenerateStructured(ctx context.Context, msgs []Message, schemaName string, schema map[string]any, out any) error {
	return nil
}

func TestCachingClient_EmbedHitsUnderlyingOnlyOnce(t *testing.T) {
	t.Parallel()

	inner := &countingClient{vector: []float32{1, 2, 3}}
	client := NewCachingClient(inner, NewEmbeddingCache(EmbeddingCacheConfig{}))
	ctx := context.Background()

	v1, err := client.Embed(ctx, "hello")
	require.NoError(t, err)
	v2, err := client.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, inner.vector, v1)
	assert.Equal(t, inner.vector, v2)
	assert.Equal(t, 1, inner.embedCalls)
}

func TestCachingClient_EmbedBatchOnlyFetchesMisses(t *testing.T) {
	t.Parallel()

	inner := &countingClient{vector: []float32{1, 2, 3}}
	client := NewCachingClient(inner, NewEmbeddingCache(EmbeddingCacheConfig{}))
	ctx := context.Background()

	_, err := client.Embed(ctx, "cached")
	require.NoError(t, err)
	inner.embedCalls = 0

	out, err := client.EmbedBatch(ctx, []string{"cached", "fresh"})
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Equal(t, inner.vector, out[0])
	assert.Equal(t, inner.vector, out[1])
	assert.Equal(t, 1, inner.embedBatchCalls)
}

func TestCachingClient_EmbedBatchAllCachedSkipsUnderlyingCall(t *testing.T) {
	t.Parallel()

	inner := &countingClient{vector: []float32{9}}
	client := NewCachingClient(inner, NewEmbeddingCache(EmbeddingCacheConfig{}))
	ctx := context.Background()

	_, err := client.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	inner.embedBatchCalls = 0

	out, err := client.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, 0, inner.embedBatchCalls)
	require.Len(t, out, 2)
}
