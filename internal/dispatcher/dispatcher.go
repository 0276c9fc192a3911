// Package dispatcher hands DispatchRequests to the Executor and tracks
// which jobs currently have a run in flight, so a job's latest run can be
// awaited or killed by job ID. It tracks one run per job; an earlier run
// of the same job that is still going is not tracked and not stopped.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corecron/acsd/internal/executor"
	"github.com/corecron/acsd/internal/model"
)

// killAllDrainCap bounds how long KillAll waits for in-flight runs to
// finish during shutdown. A supervisor still running past the cap is
// dropped untracked; it continues to completion on its own.
const killAllDrainCap = 30 * time.Second

// Dispatcher is the single point through which both scheduled ticks and
// manual triggers reach the Executor.
type Dispatcher struct {
	exec   *executor.Executor
	logger *slog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*executor.RunHandle
}

// New creates a Dispatcher.
func New(exec *executor.Executor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		exec:   exec,
		logger: logger,
		active: make(map[uuid.UUID]*executor.RunHandle),
	}
}

// Dispatch starts req's job running. If the job already has a run in
// flight, the new run replaces it in the active-run table: the prior
// supervisor is left untracked and continues to its own completion (it is
// not killed), so at most one run per job is ever awaited or killable
// through the Dispatcher, but a slow-finishing previous run never blocks a
// new one. The returned handle can be used to wait for or force the end of
// the new run.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.DispatchRequest) (*executor.RunHandle, error) {
	handle := d.exec.Start(ctx, req)

	d.mu.Lock()
	if prev, ok := d.active[req.Job.ID]; ok {
		d.logger.Info("dispatcher: replacing active run for job, prior run continues untracked",
			"job_id", req.Job.ID, "prior_run_id", prev.RunID, "run_id", req.RunID)
	}
	d.active[req.Job.ID] = handle
	d.mu.Unlock()

	go func() {
		<-handle.Done()
		d.mu.Lock()
		// Only clear the slot if it's still ours — a later run may already
		// have replaced it.
		if d.active[req.Job.ID] == handle {
			delete(d.active, req.Job.ID)
		}
		d.mu.Unlock()
	}()

	return handle, nil
}

// DispatchScheduled is the DispatchFunc handed to the Scheduler: it
// generates a fresh run ID and dispatches with no trigger overrides.
func (d *Dispatcher) DispatchScheduled(job model.Job) {
	req := model.DispatchRequest{Job: job, RunID: model.NewID()}
	if _, err := d.Dispatch(context.Background(), req); err != nil {
		d.logger.Warn("dispatcher: scheduled dispatch failed",
			"job_id", job.ID, "job_name", job.Name, "error", err)
	}
}

// Kill requests early termination of the job's in-flight run, if any. It
// reports whether a run was found.
func (d *Dispatcher) Kill(jobID uuid.UUID) bool {
	d.mu.Lock()
	h, ok := d.active[jobID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	h.Kill()
	return true
}

// KillAll terminates every tracked in-flight run and waits up to
// killAllDrainCap total for them to finish, used during graceful shutdown.
// Any run still unfinished when the cap elapses is dropped: its supervisor
// keeps running to completion on its own, untracked.
func (d *Dispatcher) KillAll() {
	d.mu.Lock()
	handles := make([]*executor.RunHandle, 0, len(d.active))
	for _, h := range d.active {
		handles = append(handles, h)
	}
	d.mu.Unlock()

	for _, h := range handles {
		h.Kill()
	}

	deadline := time.After(killAllDrainCap)
	for i, h := range handles {
		select {
		case <-h.Done():
		case <-deadline:
			d.logger.Warn("dispatcher: shutdown drain cap elapsed, dropping unfinished runs",
				"remaining", len(handles)-i)
			return
		}
	}
}

// IsActive reports whether jobID currently has a run in flight.
func (d *Dispatcher) IsActive(jobID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[jobID]
	return ok
}

// ActiveCount returns the number of jobs currently running.
func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}
