// Package redislimiter is the shared sliding-window limiter for the signal endpoints,
// one sorted set per (key, bucket).
package redislimiter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limit is the number of signals allowed per Window.
type Limit struct {
	Limit  int
	Window time.Duration
}

// DefaultLimit applies to buckets with no entry and no "default" entry.
var DefaultLimit = Limit{Limit: 30, Window: time.Minute}

// Limiter is a Redis-backed sliding window limiter using ZSETs.
type Limiter struct {
	rdb       *redis.Client
	keyPrefix string
	limits    map[string]Limit
}

func New(rdb *redis.Client, keyPrefix string, limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	if keyPrefix == "" {
		keyPrefix = "accesskit:rl:"
	}
	return &Limiter{rdb: rdb, keyPrefix: keyPrefix, limits: limits}
}

func (l *Limiter) limitFor(bucket string) Limit {
	if v, ok := l.limits[bucket]; ok {
		return v
	}
	if v, ok := l.limits["default"]; ok {
		return v
	}
	return DefaultLimit
}

// AllowNamed records one signal for key in bucket and reports whether it fits the
// window. A denied signal is removed again so it does not extend the window.
func (l *Limiter) AllowNamed(ctx context.Context, bucket, key string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, errors.New("ratelimit: bucket and key required")
	}
	lim := l.limitFor(bucket)
	now := time.Now().UnixMilli()
	start := now - lim.Window.Milliseconds()
	id := l.keyPrefix + key + ":" + bucket
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, id, "0", strconv.FormatInt(start, 10))
	pipe.ZAdd(ctx, id, redis.Z{Score: float64(now), Member: member})
	count := pipe.ZCard(ctx, id)
	pipe.Expire(ctx, id, lim.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("ratelimit %s: %w", bucket, err)
	}
	if count.Val() > int64(lim.Limit) {
		l.rdb.ZRem(ctx, id, member)
		return false, nil
	}
	return true, nil
}
