package entitlements

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	DefaultMaxAttempts  = 8
	DefaultPollInterval = 10 * time.Second
	DefaultDebounce     = 500 * time.Millisecond

	// IntentKeyPrefix namespaces persisted intents: entitlement-intent:<courseId>.
	IntentKeyPrefix = "entitlement-intent:"
)

// IntentKey returns the persistence key for a course.
func IntentKey(courseID string) string { return IntentKeyPrefix + courseID }

// Entitlement represents a user's grant (e.g., a purchased course), with optional metadata.
// Name carries the course identifier.
type Entitlement struct {
	Name      string                 `json:"name"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
	RevokedAt *time.Time             `json:"revoked_at,omitempty"`
	Source    string                 `json:"source,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Active reports whether the grant is usable at now.
func (e Entitlement) Active(now time.Time) bool {
	if strings.TrimSpace(e.Name) == "" {
		return false
	}
	if e.RevokedAt != nil && !e.RevokedAt.After(now) {
		return false
	}
	if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Intent records that the user is waiting for access to one course.
type Intent struct {
	CourseID    string    `json:"courseId"`
	IsChecking  bool      `json:"isChecking"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	LastMessage string    `json:"lastMessage"`
	StartedAt   time.Time `json:"startedAt"`
}

// NewIntent starts a checking intent for courseID.
func NewIntent(courseID string, maxAttempts int, now time.Time) Intent {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return Intent{
		CourseID:    courseID,
		IsChecking:  true,
		MaxAttempts: maxAttempts,
		StartedAt:   now.UTC(),
	}
}

// Progress is attempts/maxAttempts in [0,1].
func (i Intent) Progress() float64 {
	if i.MaxAttempts <= 0 {
		return 0
	}
	p := float64(i.Attempts) / float64(i.MaxAttempts)
	if p > 1 {
		return 1
	}
	return p
}

// Exhausted reports whether no more checks are allowed.
func (i Intent) Exhausted() bool { return i.MaxAttempts > 0 && i.Attempts >= i.MaxAttempts }

// Validate checks the structural invariants of a decoded intent.
func (i Intent) Validate() error {
	if strings.TrimSpace(i.CourseID) == "" {
		return errors.New("intent: missing courseId")
	}
	if i.MaxAttempts <= 0 {
		return fmt.Errorf("intent %s: maxAttempts must be positive, got %d", i.CourseID, i.MaxAttempts)
	}
	if i.Attempts < 0 || i.Attempts > i.MaxAttempts {
		return fmt.Errorf("intent %s: attempts %d outside [0,%d]", i.CourseID, i.Attempts, i.MaxAttempts)
	}
	return nil
}

// EventKind names an entitlement lifecycle event.
type EventKind int

const (
	EventStarted EventKind = iota + 1
	EventUpdated
	EventCompleted
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventUpdated:
		return "updated"
	case EventCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) (EventKind, bool) {
	switch s {
	case "started":
		return EventStarted, true
	case "updated":
		return EventUpdated, true
	case "completed":
		return EventCompleted, true
	}
	return 0, false
}

// Event is a transient lifecycle message. Intent is a value copy taken at publish time.
type Event struct {
	Kind     EventKind
	CourseID string
	Intent   Intent
	// Terminal marks the last Updated event of an exhausted poll.
	Terminal bool
	// Origin is empty for events raised in this process and carries the relay
	// origin ID for events received from another browsing context.
	Origin string
}

// ProfileSnapshot is a read-only view of the user's profile as last fetched by the
// profile provider. It is replaced wholesale on every refresh.
type ProfileSnapshot struct {
	UserID    string
	Grants    []Entitlement
	Fields    map[string]string
	FetchedAt time.Time

	purchased map[string]struct{}
}

// NewProfileSnapshot builds a snapshot from grants. Inactive grants do not count as purchases.
// Inputs are copied so callers cannot mutate the snapshot afterwards.
func NewProfileSnapshot(userID string, grants []Entitlement, fields map[string]string, fetchedAt time.Time) ProfileSnapshot {
	s := ProfileSnapshot{
		UserID:    userID,
		Grants:    append([]Entitlement(nil), grants...),
		FetchedAt: fetchedAt,
		purchased: make(map[string]struct{}, len(grants)),
	}
	if len(fields) > 0 {
		s.Fields = make(map[string]string, len(fields))
		for k, v := range fields {
			s.Fields[k] = v
		}
	}
	for _, g := range grants {
		if g.Active(fetchedAt) {
			s.purchased[g.Name] = struct{}{}
		}
	}
	return s
}

// SnapshotOf is shorthand for a snapshot that owns exactly the given courses.
func SnapshotOf(userID string, courseIDs ...string) ProfileSnapshot {
	grants := make([]Entitlement, 0, len(courseIDs))
	for _, id := range courseIDs {
		grants = append(grants, Entitlement{Name: id, Source: "purchase"})
	}
	return NewProfileSnapshot(userID, grants, nil, time.Now())
}

// HasCourse reports whether the snapshot grants access to courseID.
func (s ProfileSnapshot) HasCourse(courseID string) bool {
	if s.purchased == nil {
		return false
	}
	_, ok := s.purchased[courseID]
	return ok
}

// PurchasedCourses returns the purchased course IDs in lexical order.
func (s ProfileSnapshot) PurchasedCourses() []string {
	out := make([]string, 0, len(s.purchased))
	for id := range s.purchased {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
