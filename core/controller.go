package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/PaulFidika/accesskit/bus"
	"github.com/PaulFidika/accesskit/entitlements"
	"github.com/PaulFidika/accesskit/intents"
	"github.com/PaulFidika/accesskit/lang"
	"github.com/PaulFidika/accesskit/notify"
	"github.com/PaulFidika/accesskit/poller"
	"github.com/sirupsen/logrus"
)

var (
	ErrAlreadyMounted = errors.New("controller already mounted")
	ErrNotMounted     = errors.New("controller not mounted")
)

// ProfileProvider owns the user's profile. The controller only reads the current
// snapshot and listens for replacements; it never fetches.
type ProfileProvider interface {
	Current() entitlements.ProfileSnapshot
	Subscribe(func(entitlements.ProfileSnapshot)) (unsubscribe func())
}

// Config configures a Controller.
type Config struct {
	Poll poller.Config
	// Language is used for notifications when the mount context carries none.
	Language string
}

func (c *Config) defaulted() Config {
	if c == nil {
		return Config{Language: lang.Default}
	}
	out := *c
	if lang.Normalize(out.Language) == "" {
		out.Language = lang.Default
	}
	return out
}

// Deps are the shared collaborators of a Controller. Profiles and Store are required.
type Deps struct {
	Profiles  ProfileProvider
	Store     *intents.Store
	Bus       *bus.Bus
	Surface   notify.Surface
	Scheduler poller.Scheduler
	Auditor   Auditor
	Log       logrus.FieldLogger
	Now       func() time.Time
}

// Controller synchronizes access to one course for one mounted course view. It owns
// its poller, notifier and subscriptions; Unmount releases all of them.
type Controller struct {
	courseID string
	cfg      Config
	deps     Deps
	log      logrus.FieldLogger
	poller   *poller.Poller
	notifier *notify.Notifier

	mu       sync.Mutex
	mounted  bool
	ctx      context.Context
	snapshot entitlements.ProfileSnapshot
	unsubs   []func()
}

func NewController(courseID string, cfg *Config, deps Deps) *Controller {
	c := &Controller{courseID: courseID, cfg: cfg.defaulted(), deps: deps, ctx: context.Background()}
	if c.deps.Bus == nil {
		c.deps.Bus = bus.New(deps.Log)
	}
	if c.deps.Surface == nil {
		c.deps.Surface = notify.LogSurface{Log: deps.Log}
	}
	if c.deps.Now == nil {
		c.deps.Now = time.Now
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	c.log = log.WithFields(logrus.Fields{"component": "controller", "course_id": courseID})
	c.notifier = notify.New(c.deps.Surface, c.cfg.Language, log)
	c.poller = poller.New(c.cfg.Poll, poller.Deps{
		Snapshot:     c.Snapshot,
		Store:        deps.Store,
		Bus:          c.deps.Bus,
		Scheduler:    deps.Scheduler,
		Log:          log,
		Language:     c.cfg.Language,
		ViewLanguage: c.language,
		Now:          c.deps.Now,
	})
	return c
}

// CourseID returns the course this controller watches.
func (c *Controller) CourseID() string { return c.courseID }

// State returns the poll state of the course.
func (c *Controller) State() poller.State { return c.poller.State(c.courseID) }

// PendingTimers returns how many poll timers are armed.
func (c *Controller) PendingTimers() int { return c.poller.Pending(c.courseID) }

// Snapshot returns the last profile snapshot received from the provider.
func (c *Controller) Snapshot() entitlements.ProfileSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Mounted reports whether the controller is between Mount and Unmount.
func (c *Controller) Mounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mounted
}

// Mount subscribes to lifecycle events and profile replacements and resumes any
// persisted wait. ctx may carry the viewer language (see lang.WithLanguage).
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return ErrAlreadyMounted
	}
	c.mounted = true
	c.ctx = context.WithoutCancel(ctx)
	c.snapshot = c.deps.Profiles.Current()
	c.mu.Unlock()
	c.notifier.Attach()

	unsubs := []func(){
		c.deps.Bus.Subscribe(entitlements.EventStarted, c.onStarted),
		c.deps.Bus.Subscribe(entitlements.EventUpdated, c.onUpdated),
		c.deps.Bus.Subscribe(entitlements.EventCompleted, c.onCompleted),
		c.deps.Profiles.Subscribe(c.onProfile),
	}
	c.mu.Lock()
	c.unsubs = unsubs
	c.mu.Unlock()

	intent, ok := c.deps.Store.Load(ctx, c.courseID)
	if !ok || !intent.IsChecking {
		return nil
	}
	if c.Snapshot().HasCourse(c.courseID) {
		c.poller.Confirm(c.courseID)
		return nil
	}
	c.log.WithField("attempt", intent.Attempts).Info("resuming wait for access")
	c.notifier.Show(c.viewCtx(), c.courseID, intent)
	c.poller.Trigger(c.courseID)
	return nil
}

// PaymentCompleted handles the one-shot signal dispatched after the user returns
// from checkout.
func (c *Controller) PaymentCompleted(ctx context.Context) error {
	return c.signal(ctx, "payment_completed")
}

// ProfileUpdated handles an explicit "profile updated" signal for this course.
func (c *Controller) ProfileUpdated(ctx context.Context) error {
	return c.signal(ctx, "profile_updated")
}

func (c *Controller) signal(ctx context.Context, source string) error {
	if !c.Mounted() {
		return ErrNotMounted
	}
	log := c.log.WithField("signal", source)
	if c.Snapshot().HasCourse(c.courseID) {
		if c.poller.Confirm(c.courseID) {
			log.Debug("access already granted")
		}
		return nil
	}
	if st := c.poller.State(c.courseID); st.Terminal() {
		c.poller.Cancel(c.courseID)
	}

	if !c.deps.Store.IsActive(ctx, c.courseID) {
		intent := entitlements.NewIntent(c.courseID, c.poller.Config().MaxAttempts, c.deps.Now())
		intent.LastMessage = lang.Message(c.language(), lang.KeyChecking)
		if err := c.deps.Store.Save(ctx, intent); err != nil {
			log.WithError(err).Warn("intent not persisted")
		}
		c.deps.Bus.Publish(entitlements.Event{Kind: entitlements.EventStarted, CourseID: c.courseID, Intent: intent})
	}
	c.poller.Trigger(c.courseID)
	return nil
}

// Unmount cancels timers, closes the notification and drops every subscription.
// The persisted intent is kept so a later mount can resume. Idempotent.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = false
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	c.poller.CancelAll()
	c.notifier.Detach()
}

// Dismiss closes the course notification, e.g. after the viewer acknowledged the
// "stopped checking" message. Polling state is left alone.
func (c *Controller) Dismiss() { c.notifier.Close(c.courseID) }

func (c *Controller) viewCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// language is the viewer language of the current mount.
func (c *Controller) language() string {
	return lang.FromContextOr(c.viewCtx(), c.cfg.Language)
}

func (c *Controller) onProfile(snap entitlements.ProfileSnapshot) {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	c.snapshot = snap
	c.mu.Unlock()

	if !snap.HasCourse(c.courseID) || !c.waiting() {
		return
	}
	c.log.Debug("profile refresh granted access")
	c.poller.Confirm(c.courseID)
}

// waiting reports whether anything is in flight for the course.
func (c *Controller) waiting() bool {
	switch c.poller.State(c.courseID) {
	case poller.Confirmed:
		return false
	case poller.Scheduled, poller.Checking, poller.Exhausted:
		return true
	}
	return c.poller.Pending(c.courseID) > 0 || c.notifier.IsOpen(c.courseID) ||
		c.deps.Store.IsActive(c.viewCtx(), c.courseID)
}

// The bus handlers check Mounted: a publish already in flight still reaches them
// after Unmount dropped the subscription.
func (c *Controller) onStarted(ev entitlements.Event) {
	if ev.CourseID != c.courseID || ev.Origin != "" || !c.Mounted() {
		return
	}
	c.notifier.Show(c.viewCtx(), c.courseID, ev.Intent)
}

func (c *Controller) onUpdated(ev entitlements.Event) {
	if ev.CourseID != c.courseID || ev.Origin != "" || !c.Mounted() {
		return
	}
	if ev.Terminal {
		c.notifier.ShowTerminal(c.viewCtx(), c.courseID, ev.Intent)
		c.audit(OutcomeExhausted, ev.Intent.Attempts)
		return
	}
	c.notifier.Show(c.viewCtx(), c.courseID, ev.Intent)
}

func (c *Controller) onCompleted(ev entitlements.Event) {
	if ev.CourseID != c.courseID || !c.Mounted() {
		return
	}
	if ev.Origin != "" {
		// Another browsing context saw the grant; settle here too.
		if c.waiting() {
			c.poller.Confirm(c.courseID)
		}
		return
	}
	c.notifier.Close(c.courseID)
	c.audit(OutcomeConfirmed, ev.Intent.Attempts)
}

func (c *Controller) audit(outcome Outcome, attempts int) {
	if c.deps.Auditor == nil {
		return
	}
	ctx := c.viewCtx()
	if err := c.deps.Auditor.LogOutcome(ctx, c.Snapshot().UserID, c.courseID, outcome, attempts); err != nil {
		c.log.WithError(err).Warn("audit outcome")
	}
}
