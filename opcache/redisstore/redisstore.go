// Package redisstore implements op.Cache on top of go-redis, for
// deployments that already run Redis and want Op output caching shared
// across multiple FlowLLM service instances (spec §4.3, §6.4 "backend").
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowllm-ai/flowllm/flowerr"
)

// Store is a Redis-backed op.Cache. Keys are prefixed to avoid colliding
// with unrelated data in a shared Redis instance.
type Store struct {
	client *redis.Client
	prefix string
}

// New wraps an existing *redis.Client. prefix is prepended to every
// fingerprint key; pass "" for no prefix.
func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(fingerprint string) string { return s.prefix + fingerprint }

// Get returns the cached value for fingerprint, or a miss if the key is
// absent or has expired (Redis TTL handles expiry directly).
func (s *Store) Get(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, flowerr.Wrap(flowerr.KindTransient, err, "redisstore: get %q", fingerprint)
	}
	return val, true, nil
}

// Set stores value under fingerprint with the given TTL (0 means no
// expiry), overwriting any existing entry.
func (s *Store) Set(ctx context.Context, fingerprint string, value []byte, expire time.Duration) error {
	if err := s.client.Set(ctx, s.key(fingerprint), value, expire).Err(); err != nil {
		return flowerr.Wrap(flowerr.KindTransient, err, "redisstore: set %q", fingerprint)
	}
	return nil
}
