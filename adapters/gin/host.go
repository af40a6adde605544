package accessgin

import (
	"context"
	"errors"
	"sync"

	"github.com/PaulFidika/accesskit/bus"
	redisbus "github.com/PaulFidika/accesskit/bus/redis"
	"github.com/PaulFidika/accesskit/core"
	"github.com/PaulFidika/accesskit/entitlements"
	"github.com/PaulFidika/accesskit/identity"
	"github.com/PaulFidika/accesskit/intents"
	"github.com/PaulFidika/accesskit/notify"
	"github.com/PaulFidika/accesskit/poller"
	memorystore "github.com/PaulFidika/accesskit/storage/memory"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimiter throttles viewer signals per named bucket.
type RateLimiter interface {
	AllowNamed(ctx context.Context, bucket, key string) (bool, error)
}

// Rate-limit buckets.
const (
	RLPaymentReturn  = "payment_return"
	RLProfileRefresh = "profile_refresh"
)

// HostDeps are the collaborators shared by every viewer session.
type HostDeps struct {
	// Backend is the durable intent KV. Each viewer gets its own namespace in it.
	// Nil means a process-local memorystore.
	Backend intents.Backend
	// Profiles loads profile snapshots (identity.Store in production).
	Profiles identity.Loader
	// Redis enables a per-viewer event relay between hosts. Optional.
	Redis     *redis.Client
	Limiter   RateLimiter
	Scheduler poller.Scheduler
	Auditor   core.Auditor
	Log       logrus.FieldLogger
}

// Host keeps one session per viewer and one controller per mounted course view.
type Host struct {
	cfg  core.Config
	deps HostDeps
	log  logrus.FieldLogger

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	ownKV    *memorystore.KV
	closed   bool
}

type session struct {
	userID   uuid.UUID
	bus      *bus.Bus
	store    *intents.Store
	profiles *identity.Provider
	surface  *notify.MemorySurface
	relay    *redisbus.Relay

	mu    sync.Mutex
	views map[string]*core.Controller
}

var ErrHostClosed = errors.New("host closed")

func NewHost(cfg *core.Config, deps HostDeps) *Host {
	h := &Host{deps: deps, sessions: make(map[uuid.UUID]*session)}
	if cfg != nil {
		h.cfg = *cfg
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	h.deps.Log = log
	h.log = log.WithField("component", "host")
	if h.deps.Backend == nil {
		h.ownKV = memorystore.NewKV(0)
		h.deps.Backend = h.ownKV
	}
	return h
}

func (h *Host) session(ctx context.Context, userID uuid.UUID) (*session, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHostClosed
	}
	if s, ok := h.sessions[userID]; ok {
		h.mu.Unlock()
		return s, nil
	}
	log := h.deps.Log.WithField("user_id", userID.String())
	s := &session{
		userID:   userID,
		bus:      bus.New(log),
		store:    intents.New(intents.Namespaced(h.deps.Backend, userID.String()), intents.WithLogger(log)),
		profiles: identity.NewProvider(userID, h.deps.Profiles, log),
		surface:  notify.NewMemorySurface(),
		views:    make(map[string]*core.Controller),
	}
	h.sessions[userID] = s
	h.mu.Unlock()

	if h.deps.Redis != nil {
		s.relay = redisbus.New(h.deps.Redis, s.bus, redisbus.DefaultChannel+":"+userID.String(), log)
		if err := s.relay.Start(ctx); err != nil {
			log.WithError(err).Warn("event relay unavailable")
			s.relay = nil
		}
	}
	if _, err := s.profiles.Refresh(ctx); err != nil {
		log.WithError(err).Warn("initial profile load failed")
	}
	return s, nil
}

func (h *Host) lookup(userID uuid.UUID) (*session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[userID]
	return s, ok
}

func (s *session) view(courseID string) (*core.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.views[courseID]
	return c, ok
}

// Mount opens a course view for the viewer and resumes any persisted wait.
func (h *Host) Mount(ctx context.Context, userID uuid.UUID, courseID string) error {
	s, err := h.session(ctx, userID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.views[courseID]; ok {
		s.mu.Unlock()
		return core.ErrAlreadyMounted
	}
	c := core.NewController(courseID, &h.cfg, core.Deps{
		Profiles:  s.profiles,
		Store:     s.store,
		Bus:       s.bus,
		Surface:   s.surface,
		Scheduler: h.deps.Scheduler,
		Auditor:   h.deps.Auditor,
		Log:       h.deps.Log.WithField("user_id", userID.String()),
	})
	s.views[courseID] = c
	s.mu.Unlock()
	return c.Mount(ctx)
}

// Unmount closes the course view. The persisted intent survives for a later mount.
func (h *Host) Unmount(userID uuid.UUID, courseID string) error {
	s, ok := h.lookup(userID)
	if !ok {
		return core.ErrNotMounted
	}
	s.mu.Lock()
	c, ok := s.views[courseID]
	delete(s.views, courseID)
	s.mu.Unlock()
	if !ok {
		return core.ErrNotMounted
	}
	c.Unmount()
	return nil
}

// PaymentReturn delivers the post-checkout signal to a mounted view.
func (h *Host) PaymentReturn(ctx context.Context, userID uuid.UUID, courseID string) error {
	c, err := h.controller(userID, courseID)
	if err != nil {
		return err
	}
	return c.PaymentCompleted(ctx)
}

// ProfileUpdated delivers an explicit "profile updated" signal to a mounted view.
func (h *Host) ProfileUpdated(ctx context.Context, userID uuid.UUID, courseID string) error {
	c, err := h.controller(userID, courseID)
	if err != nil {
		return err
	}
	return c.ProfileUpdated(ctx)
}

// Dismiss closes the course notification of a mounted view.
func (h *Host) Dismiss(userID uuid.UUID, courseID string) error {
	c, err := h.controller(userID, courseID)
	if err != nil {
		return err
	}
	c.Dismiss()
	return nil
}

func (h *Host) controller(userID uuid.UUID, courseID string) (*core.Controller, error) {
	s, ok := h.lookup(userID)
	if !ok {
		return nil, core.ErrNotMounted
	}
	c, ok := s.view(courseID)
	if !ok {
		return nil, core.ErrNotMounted
	}
	return c, nil
}

// RefreshProfile reloads the viewer's profile; mounted views react to the new snapshot.
func (h *Host) RefreshProfile(ctx context.Context, userID uuid.UUID) (entitlements.ProfileSnapshot, error) {
	s, err := h.session(ctx, userID)
	if err != nil {
		return entitlements.ProfileSnapshot{}, err
	}
	return s.profiles.Refresh(ctx)
}

// Progress is the viewer-facing state of one course view.
type Progress struct {
	CourseID     string               `json:"course_id"`
	Mounted      bool                 `json:"mounted"`
	State        string               `json:"state"`
	Purchased    bool                 `json:"purchased"`
	Intent       *entitlements.Intent `json:"intent,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
}

// Progress reports the course view state, its persisted intent and its visible notification.
func (h *Host) Progress(ctx context.Context, userID uuid.UUID, courseID string) Progress {
	p := Progress{CourseID: courseID, State: poller.Idle.String()}
	s, ok := h.lookup(userID)
	if !ok {
		return p
	}
	p.Purchased = s.profiles.Current().HasCourse(courseID)
	if c, ok := s.view(courseID); ok {
		p.Mounted = true
		p.State = c.State().String()
	}
	if in, ok := s.store.Load(ctx, courseID); ok {
		p.Intent = &in
	}
	if n, ok := s.surface.Get(notify.HandleFor(courseID)); ok {
		p.Notification = &n
	}
	return p
}

// Stores returns an intent store for every viewer with intents in the shared
// backend, for the sweeper. Live sessions contribute their own store; viewers
// without one, such as those left over from a previous process, get a fresh one.
func (h *Host) Stores(ctx context.Context) []*intents.Store {
	h.mu.Lock()
	backend := h.deps.Backend
	out := make([]*intents.Store, 0, len(h.sessions))
	live := make(map[string]struct{}, len(h.sessions))
	for id, s := range h.sessions {
		live[id.String()] = struct{}{}
		out = append(out, s.store)
	}
	h.mu.Unlock()

	namespaces, err := intents.Namespaces(ctx, backend)
	if err != nil {
		h.log.WithError(err).Warn("listing intent owners failed; sweeping live sessions only")
		return out
	}
	for _, ns := range namespaces {
		if _, ok := live[ns]; ok {
			continue
		}
		out = append(out, intents.New(intents.Namespaced(backend, ns), intents.WithLogger(h.deps.Log)))
	}
	return out
}

// Close unmounts every view and stops the relays. The host rejects new sessions afterwards.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, s := range sessions {
			s.close()
		}
		if h.ownKV != nil {
			_ = h.ownKV.Close()
		}
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) close() {
	s.mu.Lock()
	views := s.views
	s.views = map[string]*core.Controller{}
	s.mu.Unlock()
	for _, c := range views {
		c.Unmount()
	}
	if s.relay != nil {
		_ = s.relay.Close()
	}
}
