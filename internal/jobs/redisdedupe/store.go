// Package redisdedupe implements jobs.DedupeStore over Redis, so the
// dispatcher's idempotency tracking survives process restarts and is shared
// across worker-pool instances. Grounded on
// internal/orchestrator/dedupe.go's RedisDedupeStore.
package redisdedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a Redis-backed jobs.DedupeStore.
type Store struct {
	client *redis.Client
}

// New dials addr and pings it to validate the connection.
func New(addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis dedupe store ping: %w", err)
	}
	return &Store{client: client}, nil
}

// Get returns the value stored under key, or "" if absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// Set stores value under key with the given TTL.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
