// Package poller re-checks course entitlement against the latest profile snapshot
// with a bounded number of attempts, coalescing bursts of triggers into one check.
//
// Each course runs its own state machine:
//
//	Idle -> Scheduled -> Checking -> Idle | Confirmed | Exhausted
//
// Every armed timer carries a token; a callback whose token no longer matches the
// course's current token (after Cancel, re-arm or a terminal transition) is a no-op.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/PaulFidika/accesskit/bus"
	"github.com/PaulFidika/accesskit/entitlements"
	"github.com/PaulFidika/accesskit/intents"
	"github.com/PaulFidika/accesskit/lang"
	"github.com/sirupsen/logrus"
)

// State is the per-course poll state.
type State int

const (
	Idle State = iota
	Scheduled
	Checking
	Confirmed
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Checking:
		return "checking"
	case Confirmed:
		return "confirmed"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further checks will run.
func (s State) Terminal() bool { return s == Confirmed || s == Exhausted }

// Config is the polling policy. Zero fields take the defaults (500ms, 10s, 8).
type Config struct {
	Debounce    time.Duration
	Interval    time.Duration
	MaxAttempts int
}

func (c Config) defaulted() Config {
	if c.Debounce <= 0 {
		c.Debounce = entitlements.DefaultDebounce
	}
	if c.Interval <= 0 {
		c.Interval = entitlements.DefaultPollInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = entitlements.DefaultMaxAttempts
	}
	return c
}

// Deps are the collaborators of a Poller. Snapshot and Store are required.
type Deps struct {
	// Snapshot returns the latest profile snapshot; the poller never fetches one itself.
	Snapshot  func() entitlements.ProfileSnapshot
	Store     *intents.Store
	Bus       *bus.Bus
	Scheduler Scheduler
	Log       logrus.FieldLogger
	// Language renders Intent.LastMessage. ViewLanguage, when set and non-empty,
	// takes precedence.
	Language     string
	ViewLanguage func() string
	Now          func() time.Time
}

type course struct {
	state    State
	gen      uint64
	debounce Timer
	debTok   uint64
	interval Timer
	intTok   uint64
}

// Poller owns the timers of every course it has been triggered for.
type Poller struct {
	cfg   Config
	deps  Deps
	log   logrus.FieldLogger
	ctx   context.Context
	sched Scheduler

	mu      sync.Mutex
	tok     uint64
	courses map[string]*course
}

func New(cfg Config, deps Deps) *Poller {
	p := &Poller{
		cfg:     cfg.defaulted(),
		deps:    deps,
		ctx:     context.Background(),
		sched:   deps.Scheduler,
		courses: make(map[string]*course),
	}
	if p.sched == nil {
		p.sched = RealScheduler()
	}
	if p.deps.Now == nil {
		p.deps.Now = time.Now
	}
	if p.deps.Bus == nil {
		p.deps.Bus = bus.New(deps.Log)
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	p.log = log.WithField("component", "poller")
	return p
}

// Config returns the effective policy.
func (p *Poller) Config() Config { return p.cfg }

func (p *Poller) courseLocked(id string) *course {
	c, ok := p.courses[id]
	if !ok {
		c = &course{}
		p.courses[id] = c
	}
	return c
}

func (p *Poller) nextTokLocked() uint64 {
	p.tok++
	return p.tok
}

// Trigger requests a check for courseID after the debounce window. A trigger while
// a check is already scheduled re-arms the window (last trigger wins); a trigger
// during a check or after a terminal state is ignored.
func (p *Poller) Trigger(courseID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.triggerLocked(courseID)
}

func (p *Poller) triggerLocked(courseID string) {
	c := p.courseLocked(courseID)
	switch c.state {
	case Checking, Confirmed, Exhausted:
		return
	case Scheduled:
		if c.debounce != nil {
			c.debounce.Stop()
		}
	}
	tok := p.nextTokLocked()
	c.debTok = tok
	c.state = Scheduled
	c.debounce = p.sched.AfterFunc(p.cfg.Debounce, func() { p.onDebounce(courseID, tok) })
}

func (p *Poller) onDebounce(courseID string, tok uint64) {
	p.mu.Lock()
	c, ok := p.courses[courseID]
	if !ok || c.debTok != tok || c.state != Scheduled {
		p.mu.Unlock()
		p.stale(courseID, "debounce")
		return
	}
	c.state = Checking
	c.debounce = nil
	c.debTok = 0
	gen := c.gen
	p.mu.Unlock()

	p.check(courseID, gen)
}

func (p *Poller) onInterval(courseID string, tok uint64) {
	p.mu.Lock()
	c, ok := p.courses[courseID]
	if !ok || c.intTok != tok || c.state.Terminal() {
		p.mu.Unlock()
		p.stale(courseID, "interval")
		return
	}
	next := p.nextTokLocked()
	c.intTok = next
	c.interval = p.sched.AfterFunc(p.cfg.Interval, func() { p.onInterval(courseID, next) })
	// Same critical section as the token check, so a concurrent Cancel cannot
	// slip in before the trigger.
	p.triggerLocked(courseID)
	p.mu.Unlock()
}

func (p *Poller) stale(courseID, timer string) {
	p.log.WithFields(logrus.Fields{"course_id": courseID, "timer": timer}).
		WithError(entitlements.ErrStaleTimer).Debug("suppressed")
}

func (p *Poller) check(courseID string, gen uint64) {
	intent, ok := p.deps.Store.Load(p.ctx, courseID)
	if !ok {
		intent = entitlements.NewIntent(courseID, p.cfg.MaxAttempts, p.deps.Now())
	}
	snap := p.deps.Snapshot()
	log := p.log.WithField("course_id", courseID)

	if snap.HasCourse(courseID) {
		if _, ok := p.settle(courseID, gen, Confirmed); !ok {
			return
		}
		p.completed(courseID, intent)
		log.Info("access confirmed")
		return
	}

	if intent.Attempts < intent.MaxAttempts {
		intent.Attempts++
	}
	intent.IsChecking = true

	if intent.Exhausted() {
		settled, ok := p.settle(courseID, gen, Exhausted)
		if !ok {
			return
		}
		intent.IsChecking = false
		intent.LastMessage = lang.Message(p.language(), lang.KeyStopped)
		_ = p.deps.Store.Clear(p.ctx, courseID)
		if !p.current(courseID, settled) {
			return
		}
		p.deps.Bus.Publish(entitlements.Event{
			Kind:     entitlements.EventUpdated,
			CourseID: courseID,
			Intent:   intent,
			Terminal: true,
		})
		log.WithField("attempt", intent.Attempts).WithError(entitlements.ErrPollExhausted).Info("stopped checking")
		return
	}

	intent.LastMessage = lang.Message(p.language(), lang.KeyRetrying, intent.Attempts, intent.MaxAttempts)

	// The attempt is persisted under the generation it belongs to, so a Cancel
	// either lands before the save or after it, never in between.
	p.mu.Lock()
	c := p.courses[courseID]
	if c == nil || c.gen != gen || c.state != Checking {
		p.mu.Unlock()
		return
	}
	c.state = Idle
	if c.interval == nil {
		tok := p.nextTokLocked()
		c.intTok = tok
		c.interval = p.sched.AfterFunc(p.cfg.Interval, func() { p.onInterval(courseID, tok) })
	}
	if err := p.deps.Store.Save(p.ctx, intent); err != nil {
		log.WithError(err).Warn("continuing with in-memory intent")
	}
	p.mu.Unlock()

	if !p.current(courseID, gen) {
		return
	}
	p.deps.Bus.Publish(entitlements.Event{Kind: entitlements.EventUpdated, CourseID: courseID, Intent: intent})
	log.WithField("attempt", intent.Attempts).Debug("access not granted yet")
}

// current reports whether no Cancel or terminal transition happened since gen.
func (p *Poller) current(courseID string, gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.courses[courseID]
	return c != nil && c.gen == gen
}

func (p *Poller) language() string {
	if p.deps.ViewLanguage != nil {
		if l := p.deps.ViewLanguage(); l != "" {
			return l
		}
	}
	return p.deps.Language
}

// settle moves a course that is still in the check started at gen to a terminal
// state and stops its timers. It returns the generation of the settled state, or
// false when the check was invalidated.
func (p *Poller) settle(courseID string, gen uint64, to State) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.courses[courseID]
	if c == nil || c.gen != gen || c.state != Checking {
		return 0, false
	}
	p.stopLocked(c)
	c.state = to
	return c.gen, true
}

func (p *Poller) completed(courseID string, intent entitlements.Intent) {
	intent.IsChecking = false
	intent.LastMessage = lang.Message(p.language(), lang.KeyConfirmed)
	_ = p.deps.Store.Clear(p.ctx, courseID)
	p.deps.Bus.Publish(entitlements.Event{Kind: entitlements.EventCompleted, CourseID: courseID, Intent: intent})
}

// Confirm settles courseID as granted without waiting for a check: pending timers
// are stopped, the intent is cleared and Completed is published. Confirming an
// already confirmed course does nothing and returns false.
func (p *Poller) Confirm(courseID string) bool {
	p.mu.Lock()
	c := p.courseLocked(courseID)
	if c.state == Confirmed {
		p.mu.Unlock()
		return false
	}
	p.stopLocked(c)
	c.state = Confirmed
	p.mu.Unlock()

	intent, ok := p.deps.Store.Load(p.ctx, courseID)
	if !ok {
		intent = entitlements.NewIntent(courseID, p.cfg.MaxAttempts, p.deps.Now())
	}
	p.completed(courseID, intent)
	p.log.WithField("course_id", courseID).Info("access confirmed")
	return true
}

// Cancel stops every timer of courseID and returns it to Idle without publishing
// or touching the store. Safe in any state.
func (p *Poller) Cancel(courseID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.courses[courseID]
	if !ok {
		return
	}
	p.stopLocked(c)
	c.state = Idle
}

// CancelAll cancels every course.
func (p *Poller) CancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.courses {
		p.stopLocked(c)
		c.state = Idle
	}
}

func (p *Poller) stopLocked(c *course) {
	if c.debounce != nil {
		c.debounce.Stop()
	}
	if c.interval != nil {
		c.interval.Stop()
	}
	c.debounce, c.interval = nil, nil
	c.debTok, c.intTok = 0, 0
	c.gen++
}

// State returns the current state of courseID (Idle when never triggered).
func (p *Poller) State(courseID string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.courses[courseID]; ok {
		return c.state
	}
	return Idle
}

// Pending returns how many timers are armed for courseID.
func (p *Poller) Pending(courseID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.courses[courseID]
	if !ok {
		return 0
	}
	n := 0
	if c.debounce != nil {
		n++
	}
	if c.interval != nil {
		n++
	}
	return n
}
