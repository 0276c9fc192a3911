package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the terminal (or initial) state of a JobRun.
type RunStatus string

const (
	// RunRunning is the initial state of every run.
	RunRunning RunStatus = "Running"
	// RunCompleted means the child process returned an exit status, zero
	// or not. Only infrastructure failures produce RunFailed.
	RunCompleted RunStatus = "Completed"
	// RunFailed means the daemon itself could not carry the run through:
	// spawn error, I/O failure while supervising, or a timeout.
	RunFailed RunStatus = "Failed"
	// RunKilled means the daemon deliberately terminated the run (job
	// deletion while running, or graceful shutdown).
	RunKilled RunStatus = "Killed"
)

// TriggerParams carries the optional per-trigger overrides accepted by a
// manual trigger request: appended arguments, extra environment variables,
// and stdin content for the child process.
type TriggerParams struct {
	Args  string            `json:"args,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
	Input string            `json:"input,omitempty"`
}

// JobRun is the record of one execution attempt of a Job.
type JobRun struct {
	RunID         uuid.UUID      `json:"run_id"`
	JobID         uuid.UUID      `json:"job_id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	Status        RunStatus      `json:"status"`
	ExitCode      *int32         `json:"exit_code,omitempty"`
	LogSizeBytes  uint64         `json:"log_size_bytes"`
	Error         string         `json:"error,omitempty"`
	TriggerParams *TriggerParams `json:"trigger_params,omitempty"`
}

// Clone returns a copy of the JobRun that does not alias the receiver's
// pointer fields.
func (r JobRun) Clone() JobRun {
	cp := r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	if r.ExitCode != nil {
		c := *r.ExitCode
		cp.ExitCode = &c
	}
	if r.TriggerParams != nil {
		tp := *r.TriggerParams
		if r.TriggerParams.Env != nil {
			tp.Env = make(map[string]string, len(r.TriggerParams.Env))
			for k, v := range r.TriggerParams.Env {
				tp.Env[k] = v
			}
		}
		cp.TriggerParams = &tp
	}
	return cp
}

// DispatchRequest is handed from the Scheduler (or an external trigger) to
// the Dispatcher/Executor. RunID is pre-generated by whoever accepts the
// trigger, so that callers can filter the Event Bus for that run's events
// before the run has actually started.
type DispatchRequest struct {
	Job   Job
	RunID uuid.UUID

	// Trigger overrides. Zero value means "no override" for a scheduled
	// (non-manual) dispatch.
	Args  string
	Env   map[string]string
	Input string
}

// HasTriggerOverrides reports whether this request carries any manual
// trigger parameters at all.
func (d DispatchRequest) HasTriggerOverrides() bool {
	return d.Args != "" || len(d.Env) > 0 || d.Input != ""
}

// TriggerParamsOrNil builds the TriggerParams view of this request's overrides,
// or nil if there are none.
func (d DispatchRequest) TriggerParamsOrNil() *TriggerParams {
	if !d.HasTriggerOverrides() {
		return nil
	}
	return &TriggerParams{Args: d.Args, Env: d.Env, Input: d.Input}
}
