// Package scheduler drives time-based behaviour triggers. Cron expressions
// come from the behaviour's trigger config; the scheduler computes and
// persists the next run instant, and a ticker loop fires behaviours whose
// instant has passed. Execution itself is delegated to a RunFunc so the
// scheduler stays independent of how behaviours are executed.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentloom/agentloom/pkg/agentloom/plan"
	"github.com/agentloom/agentloom/pkg/agentloom/store"
)

// minFireInterval guards against mis-parsed schedules spinning a behaviour
// in a tight loop.
const minFireInterval = 30 * time.Second

// ErrNoNextRun reports that a trigger config yields no computable next run
// instant: unparseable config, a bad expression, or an exhausted schedule.
// Callers treat it as softer than a persistence failure.
var ErrNoNextRun = errors.New("no computable next run")

// RunFunc executes one due behaviour.
type RunFunc func(ctx context.Context, b *store.Behaviour) error

// Scheduler computes next-run instants and fires due behaviours.
type Scheduler struct {
	store  *store.Store
	run    RunFunc
	logger *slog.Logger

	// pollEvery is how often the loop checks for due behaviours.
	pollEvery time.Duration

	mu        sync.Mutex
	lastFired map[string]time.Time
}

// New creates a scheduler. run may be nil when the scheduler is only used
// to compute next-run instants (the loop then just reschedules).
func New(s *store.Store, run RunFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:     s,
		run:       run,
		logger:    logger.With("component", "scheduler"),
		pollEvery: 15 * time.Second,
		lastFired: make(map[string]time.Time),
	}
}

// Schedule parses the behaviour's cron expression and persists its next
// run instant. An uncomputable next run is reported as ErrNoNextRun (the
// build treats it as a warning); a failed persist is a plain store error.
func (s *Scheduler) Schedule(ctx context.Context, b *store.Behaviour) error {
	next, err := NextRun(b.TriggerConfig, time.Now())
	if err != nil {
		return err
	}
	if err := s.store.SetBehaviourNextRun(ctx, b.ID, next); err != nil {
		return fmt.Errorf("persist next run for %s: %w", b.ID, err)
	}
	return nil
}

// Unschedule clears the behaviour's next run instant.
func (s *Scheduler) Unschedule(ctx context.Context, behaviourID string) error {
	return s.store.SetBehaviourNextRun(ctx, behaviourID, time.Time{})
}

// NextRun computes the next occurrence after 'after' for a time-based
// trigger config. Standard 5-field cron plus descriptors (@hourly,
// @every 10m, ...) are accepted.
func NextRun(triggerConfig string, after time.Time) (time.Time, error) {
	var trig plan.Trigger
	if err := json.Unmarshal([]byte(triggerConfig), &trig); err != nil {
		return time.Time{}, fmt.Errorf("%w: parse trigger config: %v", ErrNoNextRun, err)
	}
	if trig.Schedule == "" {
		return time.Time{}, fmt.Errorf("%w: trigger has no schedule", ErrNoNextRun)
	}

	sched, err := cron.ParseStandard(trig.Schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: parse schedule %q: %v", ErrNoNextRun, trig.Schedule, err)
	}

	next := sched.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: schedule %q is exhausted", ErrNoNextRun, trig.Schedule)
	}
	return next, nil
}

// Run polls for due behaviours until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "poll_every", s.pollEvery)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

// fireDue executes every due behaviour once and reschedules it.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()
	due, err := s.store.ListDueBehaviours(ctx, now)
	if err != nil {
		s.logger.Error("listing due behaviours failed", "error", err)
		return
	}

	for _, b := range due {
		if !s.shouldFire(b.ID, now) {
			continue
		}

		if s.run != nil {
			if err := s.run(ctx, b); err != nil {
				s.logger.Error("behaviour run failed",
					"behaviour", b.ID, "agent", b.AgentID, "error", err)
			}
		}

		// Reschedule regardless of run outcome so a failing behaviour
		// keeps its cadence instead of going silent.
		next, err := NextRun(b.TriggerConfig, now)
		if err != nil {
			s.logger.Warn("behaviour has no further runs, unscheduling",
				"behaviour", b.ID, "error", err)
			next = time.Time{}
		}
		if err := s.store.SetBehaviourNextRun(ctx, b.ID, next); err != nil {
			s.logger.Error("rescheduling behaviour failed",
				"behaviour", b.ID, "error", err)
		}
	}
}

// shouldFire applies the spin-loop guard.
func (s *Scheduler) shouldFire(behaviourID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastFired[behaviourID]; ok && now.Sub(last) < minFireInterval {
		return false
	}
	s.lastFired[behaviourID] = now
	return true
}
