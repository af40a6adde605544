package notify

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogSurface writes notifications to a logger. Useful for headless hosts.
type LogSurface struct {
	Log logrus.FieldLogger
}

func (s LogSurface) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

func (s LogSurface) Show(n Notification) {
	s.logger().WithFields(fields(n)).Info("notification shown")
}

func (s LogSurface) Update(n Notification) {
	s.logger().WithFields(fields(n)).Info("notification updated")
}

func (s LogSurface) Close(handle string) {
	s.logger().WithField("handle", handle).Info("notification closed")
}

func fields(n Notification) logrus.Fields {
	return logrus.Fields{
		"handle":    n.Handle,
		"course_id": n.CourseID,
		"progress":  n.Progress,
		"terminal":  n.Terminal,
		"message":   n.Message,
	}
}

// MemorySurface keeps the visible notifications so another component (e.g. an
// HTTP handler) can read them.
type MemorySurface struct {
	mu      sync.Mutex
	visible map[string]Notification
}

func NewMemorySurface() *MemorySurface {
	return &MemorySurface{visible: make(map[string]Notification)}
}

func (s *MemorySurface) Show(n Notification)   { s.put(n) }
func (s *MemorySurface) Update(n Notification) { s.put(n) }

func (s *MemorySurface) put(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible[n.Handle] = n
}

func (s *MemorySurface) Close(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.visible, handle)
}

// Get returns the visible notification with handle.
func (s *MemorySurface) Get(handle string) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.visible[handle]
	return n, ok
}

// Visible returns every visible notification ordered by handle.
func (s *MemorySurface) Visible() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, 0, len(s.visible))
	for _, n := range s.visible {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}
