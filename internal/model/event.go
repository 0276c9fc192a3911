package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SharedText is an immutable, shareable text buffer. It exists so that one
// chunk of child-process output can be fanned out to many Event Bus
// subscribers without copying: every subscriber's Event carries the same
// *SharedText pointer, and the underlying bytes are only ever read, never
// mutated after construction. Go's garbage collector retires the buffer
// once the last subscriber drops its reference, so no explicit refcount is
// kept — the sharing is expressed purely through the pointer.
type SharedText struct {
	s string
}

// NewSharedText wraps data as an immutable shared payload.
func NewSharedText(data string) *SharedText {
	return &SharedText{s: data}
}

// String returns the underlying text.
func (t *SharedText) String() string {
	if t == nil {
		return ""
	}
	return t.s
}

// MarshalJSON renders the payload as a plain JSON string.
func (t *SharedText) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte(`""`), nil
	}
	return json.Marshal(t.s)
}

// UnmarshalJSON restores the payload from a JSON string.
func (t *SharedText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t.s = s
	return nil
}

// EventKind tags the JobEvent variants carried over the Event Bus.
type EventKind string

const (
	EventStarted     EventKind = "Started"
	EventOutput      EventKind = "Output"
	EventCompleted   EventKind = "Completed"
	EventFailed      EventKind = "Failed"
	EventJobChanged  EventKind = "JobChanged"
)

// sseName returns the lowercase snake_case form used as the SSE event-type
// field, per the external wire contract (§6).
func (k EventKind) sseName() string {
	switch k {
	case EventStarted:
		return "started"
	case EventOutput:
		return "output"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventJobChanged:
		return "job_changed"
	default:
		return string(k)
	}
}

// StartedData is the payload of an EventStarted JobEvent.
type StartedData struct {
	JobID     uuid.UUID `json:"job_id"`
	RunID     uuid.UUID `json:"run_id"`
	JobName   string    `json:"job_name"`
	Timestamp time.Time `json:"timestamp"`
}

// OutputData is the payload of an EventOutput JobEvent. Data is a shared,
// read-only text buffer; cloning the event shares the pointer.
type OutputData struct {
	JobID     uuid.UUID   `json:"job_id"`
	RunID     uuid.UUID   `json:"run_id"`
	Data      *SharedText `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// CompletedData is the payload of an EventCompleted JobEvent.
type CompletedData struct {
	JobID     uuid.UUID `json:"job_id"`
	RunID     uuid.UUID `json:"run_id"`
	ExitCode  int32     `json:"exit_code"`
	Timestamp time.Time `json:"timestamp"`
}

// FailedData is the payload of an EventFailed JobEvent. It also represents
// a Killed run on the wire: the on-disk JobRun distinguishes Failed from
// Killed, but the bus only has one failure-shaped event.
type FailedData struct {
	JobID     uuid.UUID `json:"job_id"`
	RunID     uuid.UUID `json:"run_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// JobChangedData is the payload of an EventJobChanged JobEvent.
type JobChangedData struct {
	JobID     uuid.UUID     `json:"job_id"`
	Change    JobChangeKind `json:"change"`
	Timestamp time.Time     `json:"timestamp"`
}

// JobEvent is the discriminated event carried over the Event Bus. Exactly
// one of the Data fields is populated, matching Kind.
type JobEvent struct {
	Kind      EventKind
	Started   *StartedData
	Output    *OutputData
	Completed *CompletedData
	Failed    *FailedData
	Changed   *JobChangedData
}

func NewStarted(jobID, runID uuid.UUID, jobName string, ts time.Time) JobEvent {
	return JobEvent{Kind: EventStarted, Started: &StartedData{jobID, runID, jobName, ts}}
}

func NewOutput(jobID, runID uuid.UUID, data *SharedText, ts time.Time) JobEvent {
	return JobEvent{Kind: EventOutput, Output: &OutputData{jobID, runID, data, ts}}
}

func NewCompleted(jobID, runID uuid.UUID, exitCode int32, ts time.Time) JobEvent {
	return JobEvent{Kind: EventCompleted, Completed: &CompletedData{jobID, runID, exitCode, ts}}
}

func NewFailed(jobID, runID uuid.UUID, errMsg string, ts time.Time) JobEvent {
	return JobEvent{Kind: EventFailed, Failed: &FailedData{jobID, runID, errMsg, ts}}
}

func NewJobChanged(jobID uuid.UUID, change JobChangeKind, ts time.Time) JobEvent {
	return JobEvent{Kind: EventJobChanged, Changed: &JobChangedData{jobID, change, ts}}
}

// JobID returns the job this event concerns, if any (JobChanged events
// always have one; the run-scoped variants always have one too).
func (e JobEvent) JobID() uuid.UUID {
	switch e.Kind {
	case EventStarted:
		return e.Started.JobID
	case EventOutput:
		return e.Output.JobID
	case EventCompleted:
		return e.Completed.JobID
	case EventFailed:
		return e.Failed.JobID
	case EventJobChanged:
		return e.Changed.JobID
	default:
		return uuid.UUID{}
	}
}

// RunID returns the run this event concerns, or the zero UUID for
// JobChanged events (which are not run-scoped).
func (e JobEvent) RunID() uuid.UUID {
	switch e.Kind {
	case EventStarted:
		return e.Started.RunID
	case EventOutput:
		return e.Output.RunID
	case EventCompleted:
		return e.Completed.RunID
	case EventFailed:
		return e.Failed.RunID
	default:
		return uuid.UUID{}
	}
}

// wireEnvelope is the {"event": "...", "data": ...} shape used by the SSE
// transport and any other wire consumer (§6).
type wireEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// MarshalJSON renders the event in its wire envelope.
func (e JobEvent) MarshalJSON() ([]byte, error) {
	var data any
	switch e.Kind {
	case EventStarted:
		data = e.Started
	case EventOutput:
		data = e.Output
	case EventCompleted:
		data = e.Completed
	case EventFailed:
		data = e.Failed
	case EventJobChanged:
		data = e.Changed
	default:
		return nil, fmt.Errorf("model: unknown event kind %q", e.Kind)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{Event: string(e.Kind), Data: raw})
}

// UnmarshalJSON restores an event from its wire envelope.
func (e *JobEvent) UnmarshalJSON(data []byte) error {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	e.Kind = EventKind(env.Event)
	switch e.Kind {
	case EventStarted:
		e.Started = &StartedData{}
		return json.Unmarshal(env.Data, e.Started)
	case EventOutput:
		e.Output = &OutputData{}
		return json.Unmarshal(env.Data, e.Output)
	case EventCompleted:
		e.Completed = &CompletedData{}
		return json.Unmarshal(env.Data, e.Completed)
	case EventFailed:
		e.Failed = &FailedData{}
		return json.Unmarshal(env.Data, e.Failed)
	case EventJobChanged:
		e.Changed = &JobChangedData{}
		return json.Unmarshal(env.Data, e.Changed)
	default:
		return fmt.Errorf("model: unknown event kind %q", env.Event)
	}
}

// SSEName returns the lowercase snake_case event-type name for the SSE
// transport (an external collaborator; this is exported so it can use the
// same naming without reimplementing the mapping).
func (e JobEvent) SSEName() string {
	return e.Kind.sseName()
}
