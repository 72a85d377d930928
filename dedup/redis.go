package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis. SET NX with a TTL gives the
// atomic check-and-set; the dedup window is shared by every instance
// pointing at the same Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Addr is the Redis address ("host:port"). Ignored when Client is set.
	Addr string
	// Client overrides the connection, e.g. a cluster client or a test
	// instance.
	Client redis.UniversalClient
	// KeyPrefix namespaces dedup keys. Default: "eventflow:dedup:".
	KeyPrefix string
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := cfg.Client
	if client == nil {
		if cfg.Addr == "" {
			return nil, fmt.Errorf("dedup: redis address or client required")
		}
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr})
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "eventflow:dedup:"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// MarkIfNew implements Store via SET NX EX.
func (s *RedisStore) MarkIfNew(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+id, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: redis setnx: %w", err)
	}
	return ok, nil
}

// Seen implements Store.
func (s *RedisStore) Seen(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: redis exists: %w", err)
	}
	return n > 0, nil
}

// Forget implements Store.
func (s *RedisStore) Forget(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("dedup: redis del: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
