package testing

import (
	"sync"

	"github.com/PaulFidika/accesskit/notify"
)

// SurfaceCall is one recorded call on a RecordingSurface.
type SurfaceCall struct {
	Op           string // "show" | "update" | "close"
	Handle       string
	Notification notify.Notification
}

// RecordingSurface records every call and tracks which handles are visible.
// It fails nothing itself; tests assert on Calls and Visible.
type RecordingSurface struct {
	mu      sync.Mutex
	calls   []SurfaceCall
	visible map[string]notify.Notification
}

var _ notify.Surface = (*RecordingSurface)(nil)

func NewRecordingSurface() *RecordingSurface {
	return &RecordingSurface{visible: make(map[string]notify.Notification)}
}

func (r *RecordingSurface) Show(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, SurfaceCall{Op: "show", Handle: n.Handle, Notification: n})
	r.visible[n.Handle] = n
}

func (r *RecordingSurface) Update(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, SurfaceCall{Op: "update", Handle: n.Handle, Notification: n})
	r.visible[n.Handle] = n
}

func (r *RecordingSurface) Close(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, SurfaceCall{Op: "close", Handle: handle})
	delete(r.visible, handle)
}

// Calls returns a copy of the recorded calls.
func (r *RecordingSurface) Calls() []SurfaceCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SurfaceCall(nil), r.calls...)
}

// Count returns how many calls of op were recorded for handle ("" matches any handle).
func (r *RecordingSurface) Count(op, handle string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op && (handle == "" || c.Handle == handle) {
			n++
		}
	}
	return n
}

// Visible returns the notification currently shown under handle.
func (r *RecordingSurface) Visible(handle string) (notify.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.visible[handle]
	return n, ok
}

// VisibleCount returns how many notifications are currently shown.
func (r *RecordingSurface) VisibleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visible)
}
