package redisstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is a Redis-backed key-value store for persisted intents. Every browsing
// context pointed at the same Redis sees the same records (last write wins).
type KV struct {
	rdb   *redis.Client
	keyNS string
	ttl   time.Duration
}

// NewKV wraps rdb. keyPrefix is prepended to every key (may be empty); ttl <= 0 means
// records never expire.
func NewKV(rdb *redis.Client, keyPrefix string, ttl time.Duration) *KV {
	return &KV{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (s *KV) key(k string) string { return s.keyNS + k }

func (s *KV) Put(ctx context.Context, key string, v []byte) error {
	return s.rdb.Set(ctx, s.key(key), v, s.ttl).Err()
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *KV) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

// Keys scans for keys under prefix and returns them without the store namespace, sorted.
func (s *KV) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	match := s.key(prefix) + "*"
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			out = append(out, strings.TrimPrefix(k, s.keyNS))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(out)
	return out, nil
}
