package identity

import (
	"context"
	"sync"
	"time"

	"github.com/PaulFidika/accesskit/entitlements"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Loader fetches a fresh profile snapshot.
type Loader interface {
	LoadSnapshot(ctx context.Context, userID uuid.UUID) (entitlements.ProfileSnapshot, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, userID uuid.UUID) (entitlements.ProfileSnapshot, error)

func (f LoaderFunc) LoadSnapshot(ctx context.Context, userID uuid.UUID) (entitlements.ProfileSnapshot, error) {
	return f(ctx, userID)
}

// Provider holds the latest profile snapshot of one user and notifies subscribers
// whenever it is replaced.
type Provider struct {
	userID uuid.UUID
	loader Loader
	log    logrus.FieldLogger

	mu      sync.Mutex
	current entitlements.ProfileSnapshot
	nextID  int
	subs    map[int]func(entitlements.ProfileSnapshot)
	order   []int
}

func NewProvider(userID uuid.UUID, loader Loader, log logrus.FieldLogger) *Provider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Provider{
		userID:  userID,
		loader:  loader,
		log:     log.WithFields(logrus.Fields{"component": "profile", "user_id": userID.String()}),
		current: entitlements.NewProfileSnapshot(userID.String(), nil, nil, time.Time{}),
		subs:    make(map[int]func(entitlements.ProfileSnapshot)),
	}
}

// Current returns the latest snapshot.
func (p *Provider) Current() entitlements.ProfileSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Subscribe registers fn for snapshot replacements. The returned function is idempotent.
func (p *Provider) Subscribe(fn func(entitlements.ProfileSnapshot)) func() {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[id] = fn
	p.order = append(p.order, id)
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[id]; !ok {
			return
		}
		delete(p.subs, id)
		for i, v := range p.order {
			if v == id {
				p.order = append(p.order[:i:i], p.order[i+1:]...)
				break
			}
		}
	}
}

// Replace installs snap as the current snapshot and notifies subscribers in
// registration order.
func (p *Provider) Replace(snap entitlements.ProfileSnapshot) {
	p.mu.Lock()
	p.current = snap
	fns := make([]func(entitlements.ProfileSnapshot), 0, len(p.order))
	for _, id := range p.order {
		fns = append(fns, p.subs[id])
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// Refresh loads a new snapshot and replaces the current one. On error the previous
// snapshot stays in place and the error is returned; the provider does not retry.
func (p *Provider) Refresh(ctx context.Context) (entitlements.ProfileSnapshot, error) {
	if p.loader == nil {
		return p.Current(), nil
	}
	snap, err := p.loader.LoadSnapshot(ctx, p.userID)
	if err != nil {
		p.log.WithError(err).Warn("profile refresh failed")
		return p.Current(), err
	}
	p.Replace(snap)
	return snap, nil
}
