package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore 基于 Redis 的 SET EX 实现 TTL，过期完全交给 Redis 处理。
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewRedisStore 解析 redis:// URL 并通过 PING 确认连接可用。
func NewRedisStore(ctx context.Context, rawURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	return NewRedisStoreFromClient(client, ttl), nil
}

// NewRedisStoreFromClient 复用已创建的 client，Close 时会一并关闭它。
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttlSeconds(ttl),
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Envelope, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Envelope{}, ErrNotFound
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("redis get: %w", err)
	}
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return Envelope{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	return env, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, env Envelope) error {
	raw, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.FlushAll(ctx).Err(); err != nil {
		return fmt.Errorf("redis flushall: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
