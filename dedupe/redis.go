package dedupe

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares dedupe state between processes. Keys live in one set per
// source so unrelated sources never collide.
type RedisStore struct {
	client *redis.Client
	setKey string
}

func NewRedisStore(addr, sourceID string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		setKey: "crawlkit:dedupe:" + sourceID,
	}
}

func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	return s.client.SIsMember(ctx, s.setKey, key).Result()
}

func (s *RedisStore) Add(ctx context.Context, key string) error {
	return s.client.SAdd(ctx, s.setKey, key).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
