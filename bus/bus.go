// Package bus delivers entitlement lifecycle events to in-process listeners.
package bus

import (
	"sync"

	"github.com/PaulFidika/accesskit/entitlements"
	"github.com/sirupsen/logrus"
)

// Handler receives a published event.
type Handler func(entitlements.Event)

type subscription struct {
	id   uint64
	kind entitlements.EventKind // zero means every kind
	fn   Handler
}

// Bus is a synchronous publish/subscribe fan-out. Publish delivers to the handlers
// registered at the moment of the call, in registration order, before returning.
// There is no queueing for late subscribers.
type Bus struct {
	log logrus.FieldLogger

	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

func New(log logrus.FieldLogger) *Bus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bus{log: log.WithField("component", "bus")}
}

// Subscribe registers handler for kind. The returned function deregisters exactly
// this handler; calling it again is a no-op.
func (b *Bus) Subscribe(kind entitlements.EventKind, handler Handler) (unsubscribe func()) {
	return b.add(kind, handler)
}

// SubscribeAll registers handler for every event kind.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	return b.add(0, handler)
}

func (b *Bus) add(kind entitlements.EventKind, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, fn: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish fans ev out to current listeners. A panicking handler is logged and
// skipped so later listeners still receive the event.
func (b *Bus) Publish(ev entitlements.Event) {
	b.mu.Lock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == 0 || s.kind == ev.Kind {
			targets = append(targets, s.fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range targets {
		b.deliver(fn, ev)
	}
}

func (b *Bus) deliver(fn Handler, ev entitlements.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithFields(logrus.Fields{
				"course_id": ev.CourseID,
				"event":     ev.Kind.String(),
				"panic":     r,
			}).Error("event handler panicked")
		}
	}()
	fn(ev)
}

// Len returns the number of registered handlers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
