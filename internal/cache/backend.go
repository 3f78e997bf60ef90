package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vitruvius-bim/vitruvius-backend/internal/config"
)

// ErrMiss reports an absent or expired key. It is never a backend failure.
var ErrMiss = errors.New("cache miss")

// Backend is the key-value store behind ResultCache.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Stats(ctx context.Context, pattern string) (BackendStats, error)
}

type BackendStats struct {
	MemoryUsed    string `json:"memory_used"`
	TotalKeys     int64  `json:"total_keys"`
	NamespaceKeys int64  `json:"namespace_keys"`
}

const scanBatch = 500

type RedisBackend struct {
	rdb goredis.UniversalClient
}

func NewRedisBackend(rdb goredis.UniversalClient) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

// NewRedisClient dials and pings Redis with the configured timeout.
func NewRedisClient(ctx context.Context, cfg config.Redis) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		DB:          cfg.DB,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (b *RedisBackend) Client() goredis.UniversalClient { return b.rdb }

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrMiss
	}
	return raw, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return b.rdb.Set(ctx, key, val, ttl).Err()
}

func (b *RedisBackend) DeletePattern(ctx context.Context, pattern string) (int, error) {
	deleted := 0
	var cursor uint64
	for {
		keys, next, err := b.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := b.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (b *RedisBackend) Stats(ctx context.Context, pattern string) (BackendStats, error) {
	out := BackendStats{MemoryUsed: "unknown"}
	// some Redis-compatible stores do not implement INFO memory
	if info, err := b.rdb.Info(ctx, "memory").Result(); err == nil {
		if v := infoField(info, "used_memory_human"); v != "" {
			out.MemoryUsed = v
		}
	}
	var err error
	if out.TotalKeys, err = b.rdb.DBSize(ctx).Result(); err != nil {
		return out, err
	}
	var cursor uint64
	for {
		keys, next, err := b.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return out, err
		}
		out.NamespaceKeys += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func infoField(info, field string) string {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if k, v, ok := strings.Cut(line, ":"); ok && k == field {
			return v
		}
	}
	return ""
}
