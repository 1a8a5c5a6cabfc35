package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisClient is the subset of redis.Cmdable used by RedisStore
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore implements LockStore on Redis with native key expiry
type RedisStore struct {
	client redisClient
	closer func() error
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redisClient) *RedisStore {
	return &RedisStore{client: client, closer: func() error { return nil }}
}

// NewRedisStoreFromURL connects using a redis:// URL
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required for the redis backend")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	return &RedisStore{client: client, closer: client.Close}, nil
}

// Name returns the backend name
func (s *RedisStore) Name() string { return BackendRedis }

// Close closes the underlying client when it was created by this package
func (s *RedisStore) Close() error {
	return s.closer()
}

// Get returns the value of key; redis.Nil maps to absent
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Put sets key with EX ttl
func (s *RedisStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := validTTL(ttl); err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
