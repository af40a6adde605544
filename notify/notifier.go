// Package notify shows one updatable, non-blocking progress notification per course.
package notify

import (
	"context"
	"sync"

	"github.com/PaulFidika/accesskit/entitlements"
	"github.com/PaulFidika/accesskit/lang"
	"github.com/sirupsen/logrus"
)

const handlePrefix = "entitlement-progress:"

// HandleFor derives the notification handle of a course.
func HandleFor(courseID string) string { return handlePrefix + courseID }

// Notification is the content of one progress banner.
type Notification struct {
	Handle   string  `json:"handle"`
	CourseID string  `json:"course_id"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
	Terminal bool    `json:"terminal"`
}

// Surface is the UI service that renders keyed banners.
type Surface interface {
	Show(Notification)
	Update(Notification)
	Close(handle string)
}

// Notifier guarantees at most one open notification per course on its Surface.
type Notifier struct {
	surface  Surface
	language string
	log      logrus.FieldLogger

	mu       sync.Mutex
	open     map[string]string // courseID -> handle
	detached bool
}

// New returns a Notifier rendering on surface. language is used when the context
// passed to Show carries none.
func New(surface Surface, language string, log logrus.FieldLogger) *Notifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Notifier{
		surface:  surface,
		language: language,
		log:      log.WithField("component", "notify"),
		open:     make(map[string]string),
	}
}

// Show creates the notification for courseID or updates it in place.
func (n *Notifier) Show(ctx context.Context, courseID string, intent entitlements.Intent) {
	language := lang.FromContextOr(ctx, n.language)
	msg := lang.Message(language, lang.KeyChecking)
	if intent.Attempts > 0 {
		msg = lang.Message(language, lang.KeyRetrying, intent.Attempts, intent.MaxAttempts)
	}
	n.render(Notification{
		Handle:   HandleFor(courseID),
		CourseID: courseID,
		Message:  msg,
		Progress: intent.Progress(),
	})
}

// ShowTerminal replaces the notification content with the "stopped checking" message.
// The notification stays open until Close.
func (n *Notifier) ShowTerminal(ctx context.Context, courseID string, intent entitlements.Intent) {
	n.render(Notification{
		Handle:   HandleFor(courseID),
		CourseID: courseID,
		Message:  lang.Message(lang.FromContextOr(ctx, n.language), lang.KeyStopped),
		Progress: intent.Progress(),
		Terminal: true,
	})
}

// Surface calls happen under n.mu so a Close can never overtake the Show it follows.
func (n *Notifier) render(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.detached {
		return
	}
	if _, exists := n.open[note.CourseID]; exists {
		n.surface.Update(note)
		return
	}
	n.open[note.CourseID] = note.Handle
	n.surface.Show(note)
	n.log.WithField("course_id", note.CourseID).Debug("notification opened")
}

// Close closes the notification of courseID if one is open. Idempotent.
func (n *Notifier) Close(courseID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closeLocked(courseID)
}

func (n *Notifier) closeLocked(courseID string) {
	handle, ok := n.open[courseID]
	if !ok {
		return
	}
	delete(n.open, courseID)
	n.surface.Close(handle)
	n.log.WithField("course_id", courseID).Debug("notification closed")
}

// Detach closes every open notification and ignores Show and ShowTerminal until
// Attach. Late deliveries of events published before an unmount land here.
func (n *Notifier) Detach() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.detached = true
	for id := range n.open {
		n.closeLocked(id)
	}
}

// Attach undoes Detach.
func (n *Notifier) Attach() {
	n.mu.Lock()
	n.detached = false
	n.mu.Unlock()
}

// IsOpen reports whether a notification is open for courseID.
func (n *Notifier) IsOpen(courseID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.open[courseID]
	return ok
}

// CloseAll closes every open notification.
func (n *Notifier) CloseAll() {
	n.mu.Lock()
	ids := make([]string, 0, len(n.open))
	for id := range n.open {
		ids = append(ids, id)
	}
	n.mu.Unlock()
	for _, id := range ids {
		n.Close(id)
	}
}
