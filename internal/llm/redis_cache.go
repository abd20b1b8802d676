package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisEmbeddingCache is a Redis-backed EmbeddingCacher, sharing cached
// embeddings across every memoryd process instead of just one. Grounded on
// internal/skills/redis_cache.go's nil-receiver-safe, log-and-degrade style:
// a cache miss or a Redis error are treated identically by callers.
type RedisEmbeddingCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisEmbeddingCache dials addr and pings it. ttl defaults to one hour.
func NewRedisEmbeddingCache(addr string, ttl time.Duration) (*RedisEmbeddingCache, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis embedding cache ping: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultEmbeddingCacheTTL
	}
	return &RedisEmbeddingCache{client: client, ttl: ttl}, nil
}

func (c *RedisEmbeddingCache) key(text string) string {
	return "memoryd:embed:" + hashText(text)
}

// Get returns the cached vector, or false on a miss or any Redis error.
func (c *RedisEmbeddingCache) Get(text string) ([]float32, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, err := c.client.Get(ctx, c.key(text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Msg("redis_embedding_cache_get_error")
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(val, &vec); err != nil {
		log.Debug().Err(err).Msg("redis_embedding_cache_unmarshal_error")
		return nil, false
	}
	return vec, true
}

// Set caches vector under text's key. Errors are logged and swallowed; a
// failed cache write never fails the embedding call itself.
func (c *RedisEmbeddingCache) Set(text string, vector []float32) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(vector)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Set(ctx, c.key(text), data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Msg("redis_embedding_cache_set_error")
	}
}

// Close closes the underlying Redis client.
func (c *RedisEmbeddingCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
