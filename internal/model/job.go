package model

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionKind tags the two forms a Job's executable body can take.
type ExecutionKind string

const (
	// ExecutionShellCommand runs an inline shell command string.
	ExecutionShellCommand ExecutionKind = "ShellCommand"
	// ExecutionScriptFile runs a script at a filesystem path.
	ExecutionScriptFile ExecutionKind = "ScriptFile"
)

// Execution is the tagged union describing what a Job runs. On the wire it
// serializes as {"type": "...", "value": "..."} regardless of host naming
// conventions, per the external interface contract.
type Execution struct {
	Type  ExecutionKind `json:"type"`
	Value string        `json:"value"`
}

// Job is the user-declared unit of scheduled work.
type Job struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Schedule    string             `json:"schedule"`
	Execution   Execution          `json:"execution"`
	Enabled     bool               `json:"enabled"`
	Timezone    string             `json:"timezone,omitempty"`
	WorkingDir  string             `json:"working_dir,omitempty"`
	EnvVars     map[string]string  `json:"env_vars,omitempty"`
	TimeoutSecs int                `json:"timeout_secs"`
	LogEnv      bool               `json:"log_environment"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	LastRunAt   *time.Time         `json:"last_run_at,omitempty"`
	LastExitCode *int32            `json:"last_exit_code,omitempty"`

	// NextRunAt is transient: never persisted, recomputed at read time by
	// the Job Store from its own Clock and cron evaluator (see
	// internal/jobstore.Store.annotateLocked).
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// Clone returns a deep-enough copy of the Job safe to hand to a caller
// without aliasing the store's internal slices/maps.
func (j Job) Clone() Job {
	cp := j
	if j.EnvVars != nil {
		cp.EnvVars = make(map[string]string, len(j.EnvVars))
		for k, v := range j.EnvVars {
			cp.EnvVars[k] = v
		}
	}
	if j.LastRunAt != nil {
		t := *j.LastRunAt
		cp.LastRunAt = &t
	}
	if j.LastExitCode != nil {
		c := *j.LastExitCode
		cp.LastExitCode = &c
	}
	if j.NextRunAt != nil {
		t := *j.NextRunAt
		cp.NextRunAt = &t
	}
	return cp
}

// NewJob holds the caller-supplied fields accepted by Store.Create. ID,
// CreatedAt, UpdatedAt, LastRunAt and LastExitCode are always assigned by
// the store.
type NewJob struct {
	Name        string
	Schedule    string
	Execution   Execution
	Enabled     bool
	Timezone    string
	WorkingDir  string
	EnvVars     map[string]string
	TimeoutSecs int
	LogEnv      bool
}

// JobPatch is a partial update to a Job. A nil pointer field means "leave
// unchanged"; a non-nil pointer sets the field to the value it points to
// (a pointer to "" clears Timezone or WorkingDir). For
// EnvVars, EnvVarsSet decides: when it is true EnvVars replaces the job's
// map (a nil map clears it), when false EnvVars is ignored.
type JobPatch struct {
	Name        *string
	Schedule    *string
	Execution   *Execution
	Enabled     *bool
	Timezone    *string
	WorkingDir  *string
	EnvVars     map[string]string
	EnvVarsSet  bool
	TimeoutSecs *int
	LogEnv      *bool
}

// JobChangeKind tags the way a Job was mutated, for JobChanged events.
type JobChangeKind string

const (
	JobAdded    JobChangeKind = "Added"
	JobUpdated  JobChangeKind = "Updated"
	JobRemoved  JobChangeKind = "Removed"
	JobEnabled  JobChangeKind = "Enabled"
	JobDisabled JobChangeKind = "Disabled"
)
