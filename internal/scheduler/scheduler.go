// Package scheduler wakes up exactly when the next enabled Job is due and
// hands it off for dispatch. It never busy-polls: a precise timer sleeps
// until the earliest known next_run_at, and any mutation to the Job Store
// sends a coalesced notification that makes the loop recompute instead of
// waiting out a now-stale timer.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corecron/acsd/internal/clock"
	"github.com/corecron/acsd/internal/cronexpr"
	"github.com/corecron/acsd/internal/jobstore"
	"github.com/corecron/acsd/internal/model"
)

// DispatchFunc is called once per due job. It must not block for long —
// the Scheduler only hands off; the Dispatcher/Executor own the run.
type DispatchFunc func(job model.Job)

// fallbackPollInterval bounds how long the loop ever sleeps without a
// wake signal, as a defense against a missed Notify (a bug elsewhere, or
// a job added directly to the on-disk file while the daemon was down and
// picked up without going through Notify).
const fallbackPollInterval = 30 * time.Second

// Scheduler is the sleep-until-due loop.
type Scheduler struct {
	jobs     *jobstore.Store
	eval     *cronexpr.Evaluator
	clock    clock.Clock
	logger   *slog.Logger
	dispatch DispatchFunc

	wake chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	anchors map[uuid.UUID]anchor
}

// anchor is a job's next scheduled instant, tagged with the schedule/
// timezone it was computed from so a later Update that changes either can
// be detected and the anchor recomputed, instead of firing once more on
// the stale schedule before catching up.
type anchor struct {
	next     time.Time
	schedule string
	timezone string
}

// New creates a Scheduler. dispatch is invoked from the scheduler's own
// goroutine, so it must return quickly (handing the job to the Dispatcher
// and returning, not running it inline).
func New(jobs *jobstore.Store, eval *cronexpr.Evaluator, clk clock.Clock, logger *slog.Logger, dispatch DispatchFunc) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:     jobs,
		eval:     eval,
		clock:    clk,
		logger:   logger,
		dispatch: dispatch,
		wake:     make(chan struct{}, 1),
		anchors:  make(map[uuid.UUID]anchor),
	}
}

// Notify tells the loop to recompute its sleep duration, coalescing
// duplicate notifications sent before the loop wakes up to service them.
// Call this after any Create/Update/Delete/Enable/Disable on the Job
// Store.
func (s *Scheduler) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start runs the loop in the background until ctx is done or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		s.run(runCtx)
	}()
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context) {
	timer := s.clock.After(s.reconcileAndSleepDuration())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-timer:
			s.fireDue(now)
			timer = s.clock.After(s.reconcileAndSleepDuration())
		case <-s.wake:
			timer = s.clock.After(s.reconcileAndSleepDuration())
		}
	}
}

// reconcileAndSleepDuration refreshes the anchor map against the live Job
// Store (adding newly enabled jobs, dropping deleted/disabled ones) and
// returns how long to sleep until the earliest anchor.
func (s *Scheduler) reconcileAndSleepDuration() time.Duration {
	now := s.clock.Now()
	live := make(map[uuid.UUID]model.Job)
	for _, j := range s.jobs.List() {
		if j.Enabled {
			live[j.ID] = j
		}
	}

	for id := range s.anchors {
		if _, ok := live[id]; !ok {
			delete(s.anchors, id)
		}
	}
	for id, j := range live {
		if a, ok := s.anchors[id]; ok && a.schedule == j.Schedule && a.timezone == j.Timezone {
			continue
		}
		next, err := s.eval.NextAfter(j.Schedule, j.Timezone, now)
		if err != nil {
			s.logger.Warn("scheduler: could not compute next run for job", "job_id", id, "error", err)
			continue
		}
		s.anchors[id] = anchor{next: next, schedule: j.Schedule, timezone: j.Timezone}
	}

	var earliest time.Time
	for _, a := range s.anchors {
		if earliest.IsZero() || a.next.Before(earliest) {
			earliest = a.next
		}
	}
	if earliest.IsZero() {
		return fallbackPollInterval
	}
	d := earliest.Sub(now)
	if d < 0 {
		d = 0
	}
	if d > fallbackPollInterval {
		d = fallbackPollInterval
	}
	return d
}

// fireDue dispatches every job whose anchor has arrived and advances its
// anchor to the following occurrence. A job whose schedule produces more
// than one missed tick while the daemon was asleep only fires once — there
// is no durable missed-run queue.
func (s *Scheduler) fireDue(now time.Time) {
	for id, a := range s.anchors {
		if a.next.After(now) {
			continue
		}
		j, err := s.jobs.Get(id)
		if err != nil {
			delete(s.anchors, id)
			continue
		}
		if !j.Enabled {
			delete(s.anchors, id)
			continue
		}
		s.dispatch(j)

		newNext, err := s.eval.NextAfter(j.Schedule, j.Timezone, now)
		if err != nil {
			s.logger.Warn("scheduler: could not compute next run after dispatch", "job_id", id, "error", err)
			delete(s.anchors, id)
			continue
		}
		s.anchors[id] = anchor{next: newNext, schedule: j.Schedule, timezone: j.Timezone}
	}
}
