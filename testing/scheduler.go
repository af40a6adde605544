// Package testing provides utilities for testing applications that use accesskit.
// It provides a manual scheduler so debounce and poll timers can be driven
// deterministically, and a recording notification surface.
//
// Example usage:
//
//	sched := testing.NewScheduler(time.Now())
//	p := poller.New(cfg, poller.Deps{Scheduler: sched, ...})
//	p.Trigger("course-1")
//	sched.Advance(500 * time.Millisecond) // runs the debounced check
package testing

import (
	"sort"
	"sync"
	"time"

	"github.com/PaulFidika/accesskit/poller"
)

// Scheduler is a manual clock implementing poller.Scheduler. Callbacks only run
// from Advance, on the caller's goroutine.
type Scheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*Timer
}

// Timer is a timer armed on a Scheduler.
type Timer struct {
	s       *Scheduler
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

var _ poller.Scheduler = (*Scheduler)(nil)

func NewScheduler(start time.Time) *Scheduler {
	return &Scheduler{now: start}
}

// Now returns the manual clock's current time.
func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Scheduler) AfterFunc(d time.Duration, f func()) poller.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &Timer{s: s, at: s.now.Add(d), seq: s.seq, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// Stop prevents the timer from firing. It reports whether the call stopped it.
func (t *Timer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// Timers armed by callbacks fire in the same call when they fall due within d.
func (s *Scheduler) Advance(d time.Duration) {
	s.mu.Lock()
	end := s.now.Add(d)
	s.mu.Unlock()
	for {
		t := s.nextDue(end)
		if t == nil {
			break
		}
		t.fn()
	}
	s.mu.Lock()
	s.now = end
	s.mu.Unlock()
}

func (s *Scheduler) nextDue(end time.Time) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *Timer
	for _, t := range s.timers {
		if t.stopped || t.fired || t.at.After(end) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
			next = t
		}
	}
	if next == nil {
		return nil
	}
	next.fired = true
	if next.at.After(s.now) {
		s.now = next.at
	}
	return next
}

// Pending returns the number of armed timers that have neither fired nor been stopped.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// FireStopped runs the callbacks of every stopped timer, oldest first. It simulates
// a timer whose Stop lost the race against its own firing.
func (s *Scheduler) FireStopped() int {
	s.mu.Lock()
	var stale []*Timer
	for _, t := range s.timers {
		if t.stopped && !t.fired {
			t.fired = true
			stale = append(stale, t)
		}
	}
	s.mu.Unlock()
	sort.Slice(stale, func(i, j int) bool { return stale[i].seq < stale[j].seq })
	for _, t := range stale {
		t.fn()
	}
	return len(stale)
}
