package embedcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "embed:"

// RedisStore persists cached vectors in Redis so they survive restarts
// and can be shared across instances. Vectors are stored as JSON arrays
// under a TTL; a zero TTL keeps entries indefinitely.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(addr string, db int, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
		ttl: ttl,
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]float32, bool, error) {
	raw, err := s.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		// A corrupt entry is treated as a miss so it gets rewritten.
		return nil, false, nil
	}
	return vec, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, vec []float32) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal vector: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
