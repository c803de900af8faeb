package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/any-hub/cache-proxy/internal/config"
)

// Store 负责缓存条目的读写与过期。实现必须是并发安全的，并保证 Set 写入值与 TTL
// 是一次原子操作。
type Store interface {
	// Get 返回 key 对应的 Envelope。不存在或已过期返回 ErrNotFound，
	// 数据无法解码时返回包装了 ErrMalformedEnvelope 的错误。
	Get(ctx context.Context, key string) (Envelope, error)

	// Set 写入 Envelope，并附加 Store 构造时确定的 TTL。
	Set(ctx context.Context, key string, env Envelope) error

	// Clear 删除全部条目。
	Clear(ctx context.Context) error

	// Close 释放底层连接，可重复调用。
	Close() error
}

var (
	// ErrNotFound 表示缓存不存在或已过期。
	ErrNotFound = errors.New("cache entry not found")
	// ErrUnknownBackend 表示配置了未支持的缓存后端。
	ErrUnknownBackend = errors.New("unknown cache backend")
)

// NewStore 根据配置选择缓存后端并建立连接。连接失败意味着配置错误，调用方应直接退出。
func NewStore(ctx context.Context, cfg *config.Config) (Store, error) {
	ttl := cfg.CacheTTL.DurationValue()
	switch cfg.CacheBackend {
	case config.BackendRedis, "":
		return NewRedisStore(ctx, cfg.RedisURL, ttl)
	case config.BackendSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath, ttl)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.CacheBackend)
	}
}

// ttlSeconds 将 TTL 规整为整秒，至少 1 秒，与 SET EX 的语义一致。
func ttlSeconds(ttl time.Duration) time.Duration {
	if ttl < time.Second {
		return time.Second
	}
	return ttl.Truncate(time.Second)
}
