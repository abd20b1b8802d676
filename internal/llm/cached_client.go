package llm

import "context"

// EmbeddingCacher is the minimal interface CachingClient depends on, so it
// can be backed by either the in-process EmbeddingCache or a shared
// RedisEmbeddingCache without the caller changing.
type EmbeddingCacher interface {
	Get(text string) ([]float32, bool)
	Set(text string, vector []float32)
}

// CachingClient decorates a Client with an EmbeddingCacher so identical
// summaries/queries embedded more than once within a job (or across
// back-to-back retrieval calls) don't re-hit the LLM.
type CachingClient struct {
	Client
	cache EmbeddingCacher
}

// NewCachingClient wraps inner with the given embedding cache.
func NewCachingClient(inner Client, cache EmbeddingCacher) *CachingClient {
	return &CachingClient{Client: inner, cache: cache}
}

func (c *CachingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.Client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, v)
	return v, nil
}

func (c *CachingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fetched, err := c.Client.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = fetched[j]
		c.cache.Set(texts[idx], fetched[j])
	}
	return out, nil
}
