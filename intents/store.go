// Package intents persists "waiting for access" records keyed by course.
//
// Reads fail open: a malformed or unreadable record is logged and reported as absent
// so the caller proceeds with a fresh check. Writes that fail are kept in a
// process-local overlay for the rest of the session.
package intents

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/PaulFidika/accesskit/entitlements"
	"github.com/sirupsen/logrus"
)

// Backend is the durable key-value layer shared across browsing contexts.
type Backend interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Del(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Store is the local intent store.
type Store struct {
	backend Backend
	log     logrus.FieldLogger

	mu      sync.Mutex
	overlay map[string]entitlements.Intent
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for soft failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		log:     logrus.StandardLogger(),
		overlay: make(map[string]entitlements.Intent),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.WithField("component", "intents")
	return s
}

// Save upserts intent by course ID. On a backend failure the intent is still held
// in memory and a *entitlements.PersistenceWriteError is returned for logging.
func (s *Store) Save(ctx context.Context, intent entitlements.Intent) error {
	if err := intent.Validate(); err != nil {
		return &entitlements.PersistenceWriteError{CourseID: intent.CourseID, Op: "save", Err: err}
	}
	b, err := json.Marshal(intent)
	if err == nil && s.backend != nil {
		err = s.backend.Put(ctx, entitlements.IntentKey(intent.CourseID), b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil || s.backend == nil {
		s.overlay[intent.CourseID] = intent
		if err == nil {
			return nil
		}
		werr := &entitlements.PersistenceWriteError{CourseID: intent.CourseID, Op: "save", Err: err}
		s.log.WithField("course_id", intent.CourseID).WithError(err).Warn("intent kept in memory only")
		return werr
	}
	delete(s.overlay, intent.CourseID)
	return nil
}

// Load returns the intent for courseID. It never fails: read errors and malformed
// data are logged and reported as absent.
func (s *Store) Load(ctx context.Context, courseID string) (entitlements.Intent, bool) {
	s.mu.Lock()
	if in, ok := s.overlay[courseID]; ok {
		s.mu.Unlock()
		return in, true
	}
	s.mu.Unlock()
	if s.backend == nil {
		return entitlements.Intent{}, false
	}

	raw, ok, err := s.backend.Get(ctx, entitlements.IntentKey(courseID))
	if err != nil {
		s.logReadError(courseID, err)
		return entitlements.Intent{}, false
	}
	if !ok {
		return entitlements.Intent{}, false
	}
	in, err := decode(courseID, raw)
	if err != nil {
		s.logReadError(courseID, err)
		return entitlements.Intent{}, false
	}
	return in, true
}

// Clear removes the record for courseID. Idempotent.
func (s *Store) Clear(ctx context.Context, courseID string) error {
	s.mu.Lock()
	delete(s.overlay, courseID)
	s.mu.Unlock()
	if s.backend == nil {
		return nil
	}
	if err := s.backend.Del(ctx, entitlements.IntentKey(courseID)); err != nil {
		s.log.WithField("course_id", courseID).WithError(err).Warn("clear intent failed")
		return &entitlements.PersistenceWriteError{CourseID: courseID, Op: "clear", Err: err}
	}
	return nil
}

// IsActive reports whether a checking intent for courseID is persisted.
func (s *Store) IsActive(ctx context.Context, courseID string) bool {
	in, ok := s.Load(ctx, courseID)
	return ok && in.IsChecking && in.CourseID == courseID
}

// List returns every readable intent. Unreadable records are skipped.
func (s *Store) List(ctx context.Context) []entitlements.Intent {
	seen := map[string]struct{}{}
	var out []entitlements.Intent

	s.mu.Lock()
	for id, in := range s.overlay {
		seen[id] = struct{}{}
		out = append(out, in)
	}
	s.mu.Unlock()

	if s.backend == nil {
		return out
	}
	keys, err := s.backend.Keys(ctx, entitlements.IntentKeyPrefix)
	if err != nil {
		s.log.WithError(err).Warn("list intents failed")
		return out
	}
	for _, k := range keys {
		id := strings.TrimPrefix(k, entitlements.IntentKeyPrefix)
		if _, dup := seen[id]; dup {
			continue
		}
		if in, ok := s.Load(ctx, id); ok {
			out = append(out, in)
		}
	}
	return out
}

func (s *Store) logReadError(courseID string, err error) {
	rerr := &entitlements.PersistenceReadError{CourseID: courseID, Err: err}
	s.log.WithField("course_id", courseID).WithError(rerr).Warn("ignoring unreadable intent")
}

func decode(courseID string, raw []byte) (entitlements.Intent, error) {
	var in entitlements.Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return entitlements.Intent{}, err
	}
	if err := in.Validate(); err != nil {
		return entitlements.Intent{}, err
	}
	if in.CourseID != courseID {
		return entitlements.Intent{}, &mismatchError{want: courseID, got: in.CourseID}
	}
	return in, nil
}

type mismatchError struct{ want, got string }

func (e *mismatchError) Error() string {
	return "record courseId " + e.got + " does not match key " + e.want
}
