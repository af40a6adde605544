package memorystore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// KV is an in-memory key-value backend for persisted intents.
// It stands in for browser-scoped durable storage in tests and single-process hosts.
type KV struct {
	mu     sync.Mutex
	ttl    time.Duration
	data   map[string]item
	closed chan struct{}
	once   sync.Once
}

type item struct {
	v   []byte
	exp time.Time
}

// NewKV creates a new in-memory store. If ttl <= 0 entries never expire and no
// cleanup goroutine is started; otherwise expired entries are swept every minute.
func NewKV(ttl time.Duration) *KV {
	kv := &KV{ttl: ttl, data: make(map[string]item), closed: make(chan struct{})}
	if ttl > 0 {
		go kv.cleanupLoop()
	}
	return kv
}

func (s *KV) Put(ctx context.Context, key string, v []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	it := item{v: append([]byte(nil), v...)}
	if s.ttl > 0 {
		it.exp = time.Now().Add(s.ttl)
	}
	s.data[key] = it
	return nil
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	if s.expired(it, time.Now()) {
		delete(s.data, key)
		return nil, false, nil
	}
	return append([]byte(nil), it.v...), true, nil
}

func (s *KV) Del(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Keys returns the live keys that start with prefix, sorted.
func (s *KV) Keys(ctx context.Context, prefix string) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []string
	for k, it := range s.data {
		if strings.HasPrefix(k, prefix) && !s.expired(it, now) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *KV) expired(it item, now time.Time) bool {
	return !it.exp.IsZero() && now.After(it.exp)
}

func (s *KV) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.closed:
			return
		}
	}
}

func (s *KV) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, v := range s.data {
		if s.expired(v, now) {
			delete(s.data, k)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call more than once.
func (s *KV) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
