// Package memorylimiter is a single-node sliding-window limiter for the signal
// endpoints of the HTTP host. Use redislimiter when several hosts share users.
package memorylimiter

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Limit is the number of signals allowed per Window.
type Limit struct {
	Limit  int
	Window time.Duration
}

// DefaultLimit applies to buckets with no entry and no "default" entry.
var DefaultLimit = Limit{Limit: 30, Window: time.Minute}

// Limiter keeps one window of timestamps per (key, bucket).
type Limiter struct {
	limits map[string]Limit
	now    func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func New(limits map[string]Limit, opts ...Option) *Limiter {
	l := &Limiter{limits: limits, now: time.Now, windows: make(map[string][]time.Time)}
	if l.limits == nil {
		l.limits = map[string]Limit{}
	}
	for _, o := range opts {
		o(l)
	}
	return l
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
// window. Denied signals are not recorded. A nil Limiter allows everything.
func (l *Limiter) AllowNamed(_ context.Context, bucket, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, errors.New("ratelimit: bucket and key required")
	}
	lim := l.limitFor(bucket)
	now := l.now()
	start := now.Add(-lim.Window)
	id := key + ":" + bucket

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.windows[id]
	i := 0
	for i < len(ts) && !ts[i].After(start) {
		i++
	}
	ts = ts[i:]
	if len(ts) >= lim.Limit {
		l.windows[id] = ts
		return false, nil
	}
	l.windows[id] = append(ts, now)
	return true, nil
}

// Reset forgets every window of key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range l.windows {
		if len(id) > len(key) && id[:len(key)+1] == key+":" {
			delete(l.windows, id)
		}
	}
}
