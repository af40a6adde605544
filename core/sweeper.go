package core

import (
	"context"
	"time"

	"github.com/PaulFidika/accesskit/intents"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SweeperConfig controls how abandoned intents are purged from shared storage.
type SweeperConfig struct {
	// Schedule is a cron spec; descriptors such as "@every 30m" are accepted.
	Schedule string
	// MaxAge is how long an intent may live before it is considered abandoned.
	MaxAge time.Duration
}

func (c *SweeperConfig) defaulted() SweeperConfig {
	if c == nil {
		return SweeperConfig{Schedule: "@every 1h", MaxAge: 24 * time.Hour}
	}
	out := *c
	if out.Schedule == "" {
		out.Schedule = "@every 1h"
	}
	if out.MaxAge <= 0 {
		out.MaxAge = 24 * time.Hour
	}
	return out
}

// Sweeper periodically clears intents that are no longer checking or that are
// older than MaxAge. A view that mounts later simply starts a fresh check.
type Sweeper struct {
	stores func(context.Context) []*intents.Store
	cfg    SweeperConfig
	cron   *cron.Cron
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewSweeper sweeps every store returned by stores on each run. stores should cover
// every owner in shared storage, not just the viewers this process is serving.
func NewSweeper(stores func(context.Context) []*intents.Store, cfg *SweeperConfig, log logrus.FieldLogger) (*Sweeper, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Sweeper{
		stores: stores,
		cfg:    cfg.defaulted(),
		log:    log.WithField("component", "sweeper"),
		now:    time.Now,
	}
	s.cron = cron.New(
		cron.WithLogger(cron.PrintfLogger(s.log)),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.log))),
	)
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Sweep clears stale intents now and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.MaxAge)
	removed := 0
	for _, store := range s.stores(ctx) {
		for _, in := range store.List(ctx) {
			if in.IsChecking && in.StartedAt.After(cutoff) {
				continue
			}
			if err := store.Clear(ctx, in.CourseID); err != nil {
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("swept stale intents")
	}
	return removed
}
