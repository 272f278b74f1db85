// Package scheduler implements C8, the Cycle Scheduler: five
// independent timers driving the weight cycle, heartbeats, drift
// sync, and the two cleanup sweeps, all shut down together through one
// errgroup bound to a cancellable context — grounded on the teacher's
// signal-driven graceful shutdown in go-server/main.go, generalized
// from one shutdown path to N independent timer loops.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/intouch-cp/lb-controlplane/config"
	"github.com/intouch-cp/lb-controlplane/logger"
)

// Scheduler owns the set of periodic timers and their shutdown.
type Scheduler struct {
	intervals config.IntervalConfig

	weightCycle func(ctx context.Context)
	heartbeat   func(ctx context.Context)
	driftSync   func(ctx context.Context)
	hotCleanup  func(ctx context.Context)
	coldCleanup func(ctx context.Context)
}

// New builds a Scheduler. Any callback left nil is simply never
// ticked, so a deployment without a cold store, say, can omit it.
func New(intervals config.IntervalConfig) *Scheduler {
	return &Scheduler{intervals: intervals}
}

func (s *Scheduler) OnWeightCycle(fn func(ctx context.Context)) *Scheduler { s.weightCycle = fn; return s }
func (s *Scheduler) OnHeartbeat(fn func(ctx context.Context)) *Scheduler   { s.heartbeat = fn; return s }
func (s *Scheduler) OnDriftSync(fn func(ctx context.Context)) *Scheduler   { s.driftSync = fn; return s }
func (s *Scheduler) OnHotCleanup(fn func(ctx context.Context)) *Scheduler  { s.hotCleanup = fn; return s }
func (s *Scheduler) OnColdCleanup(fn func(ctx context.Context)) *Scheduler { s.coldCleanup = fn; return s }

// Run starts all configured timers and blocks until ctx is cancelled
// or one of them returns an error, then waits for the rest to unwind.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.weightCycle != nil {
		g.Go(func() error { return tick(ctx, "weight-cycle", s.intervals.WeightCycle, s.weightCycle) })
	}
	if s.heartbeat != nil {
		g.Go(func() error { return tick(ctx, "heartbeat", s.intervals.Heartbeat, s.heartbeat) })
	}
	if s.driftSync != nil {
		g.Go(func() error { return tick(ctx, "drift-sync", s.intervals.DriftSync, s.driftSync) })
	}
	if s.hotCleanup != nil {
		g.Go(func() error { return tick(ctx, "hot-cleanup", s.intervals.HotCleanup, s.hotCleanup) })
	}
	if s.coldCleanup != nil {
		g.Go(func() error { return dailyAt(ctx, "cold-cleanup", s.intervals.ColdCleanupHour, s.coldCleanup) })
	}

	return g.Wait()
}

// tick runs fn immediately, then every interval, until ctx is done.
func tick(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		logger.Warnf("scheduler: %s has a non-positive interval, timer disabled", name)
		return nil
	}

	runSafely(ctx, name, fn)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runSafely(ctx, name, fn)
		}
	}
}

// dailyAt runs fn once per day at the given local hour, until ctx is
// done.
func dailyAt(ctx context.Context, name string, hour int, fn func(ctx context.Context)) error {
	for {
		wait := durationUntilHour(time.Now(), hour)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			runSafely(ctx, name, fn)
		}
	}
}

func durationUntilHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// runSafely recovers a panicking callback so one misbehaving timer
// never brings down the others sharing this errgroup.
func runSafely(ctx context.Context, name string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("scheduler: %s panicked: %v", name, r)
		}
	}()
	fn(ctx)
}
