// Package ratelimit 提供基于 Redis 的固定窗口计数器
//
// 每个键只在一个窗口内存活，窗口结束由 Redis TTL 回收，进程重启不丢失计数，也不会无限增长。
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dumeirei/affiliate-ledger/internal/common/cache"
)

// Limiter 固定窗口限流器
type Limiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// Result 单次计数结果
type Result struct {
	Allowed   bool
	Count     int64
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

// New 创建限流器
func New(client *redis.Client, prefix string, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

// Limit 返回窗口内允许的次数
func (l *Limiter) Limit() int {
	return l.limit
}

// Allow 对 key 计数一次并判断是否超限
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	fullKey := cache.BuildKey(cache.KeyPrefixRateLimit, l.prefix, key)

	count, err := l.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return nil, err
	}

	ttl, err := l.client.TTL(ctx, fullKey).Result()
	if err != nil {
		return nil, err
	}
	// 首次计数，或上次设置过期时失败，补设过期时间
	if count == 1 || ttl < 0 {
		if err := l.client.Expire(ctx, fullKey, l.window).Err(); err != nil {
			return nil, err
		}
		ttl = l.window
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   count <= int64(l.limit),
		Count:     count,
		Limit:     l.limit,
		Remaining: remaining,
		ResetIn:   ttl,
	}, nil
}

// Reset 清除 key 的计数
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, cache.BuildKey(cache.KeyPrefixRateLimit, l.prefix, key)).Err()
}
