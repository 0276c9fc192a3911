// Package executor runs a single dispatched Job to completion: it spawns
// the child process, streams its combined output into the Log Store and
// the Event Bus, enforces the timeout, and determines the run's terminal
// status.
package executor

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corecron/acsd/internal/bus"
	"github.com/corecron/acsd/internal/clock"
	"github.com/corecron/acsd/internal/logstore"
	"github.com/corecron/acsd/internal/model"
	"github.com/corecron/acsd/internal/procspawn"
)

// readChunkSize matches the teacher's own log-streaming convention of
// reading in fixed-size chunks rather than line-by-line, since child
// output is not guaranteed to be line-delimited.
const readChunkSize = 8 * 1024

// bridgeQueueCap bounds the single reader→log-writer handoff channel (the
// log writer both appends each chunk to the Log Store and publishes it on
// the bus), so a stalled Log Store write applies backpressure to the
// reader instead of buffering unboundedly in memory.
const bridgeQueueCap = 256

// Executor runs dispatched Jobs.
type Executor struct {
	spawner   *procspawn.Spawner
	logs      *logstore.Store
	eventBus  *bus.Bus
	clock     clock.Clock
	logger    *slog.Logger
	maxLogs   int
	defaultTO time.Duration
}

// Config holds the daemon-wide settings an Executor applies to every run.
type Config struct {
	MaxLogFiles    int
	DefaultTimeout time.Duration
}

// New creates an Executor.
func New(spawner *procspawn.Spawner, logs *logstore.Store, eventBus *bus.Bus, clk clock.Clock, logger *slog.Logger, cfg Config) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		spawner:   spawner,
		logs:      logs,
		eventBus:  eventBus,
		clock:     clk,
		logger:    logger,
		maxLogs:   cfg.MaxLogFiles,
		defaultTO: cfg.DefaultTimeout,
	}
}

// RunHandle represents one in-flight run. The Dispatcher keeps one of
// these per active job so it can deliver a deliberate Kill (job deletion,
// daemon shutdown).
type RunHandle struct {
	JobID uuid.UUID
	RunID uuid.UUID

	done     chan struct{}
	killCh   chan struct{}
	killOnce sync.Once
}

// Kill requests early termination. Safe to call more than once and safe
// to call after the run has already finished.
func (h *RunHandle) Kill() {
	h.killOnce.Do(func() { close(h.killCh) })
}

// Done is closed once the run has reached a terminal state, its JobRun
// record is written, its terminal event is published and retention cleanup
// has run. Job.LastRunAt is written later, by the subscriber that reacts to
// the terminal event, so it may not be updated yet when Done closes.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Start begins executing req in the background and returns immediately
// with a handle the caller can use to observe completion or force an
// early kill. The run's lifecycle (§ JobRun state machine) proceeds
// independently of ctx; ctx only bounds the initial spawn.
func (e *Executor) Start(ctx context.Context, req model.DispatchRequest) *RunHandle {
	h := &RunHandle{
		JobID:  req.Job.ID,
		RunID:  req.RunID,
		done:   make(chan struct{}),
		killCh: make(chan struct{}),
	}
	go e.run(ctx, req, h)
	return h
}

func (e *Executor) run(ctx context.Context, req model.DispatchRequest, h *RunHandle) {
	defer close(h.done)

	startedAt := e.clock.Now()
	run := model.JobRun{
		RunID:         req.RunID,
		JobID:         req.Job.ID,
		StartedAt:     startedAt,
		Status:        model.RunRunning,
		TriggerParams: req.TriggerParamsOrNil(),
	}
	if err := e.logs.CreateRun(run); err != nil {
		e.logger.Error("executor: could not create run record", "job_id", req.Job.ID, "run_id", req.RunID, "error", err)
		return
	}
	e.eventBus.Publish(model.NewStarted(req.Job.ID, req.RunID, req.Job.Name, startedAt))

	env := mergeEnv(req.Job.EnvVars, req.Env)
	if req.Job.LogEnv {
		e.writeEnvDump(req.Job.ID, req.RunID, req.Job, req.Args, env)
	}

	timeout := e.defaultTO
	if req.Job.TimeoutSecs > 0 {
		timeout = time.Duration(req.Job.TimeoutSecs) * time.Second
	}

	if err := ctx.Err(); err != nil {
		e.finish(req, run, model.RunFailed, nil, err.Error(), 0)
		return
	}
	// The child must not be tied to ctx: once started it ends only through
	// h.killCh or the timeout.
	handle, err := e.spawner.Spawn(context.WithoutCancel(ctx), req.Job.Execution, req.Args, req.Job.WorkingDir, env, req.Input)
	if err != nil {
		e.finish(req, run, model.RunFailed, nil, err.Error(), 0)
		return
	}

	var totalBytes uint64
	chunks := make(chan string, bridgeQueueCap)
	readDone := make(chan error, 1)
	go e.readLoop(handle, chunks, readDone)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for chunk := range chunks {
			n, err := e.logs.AppendLog(req.Job.ID, req.RunID, chunk)
			if err != nil {
				e.logger.Warn("executor: could not append log", "job_id", req.Job.ID, "run_id", req.RunID, "error", err)
				continue
			}
			totalBytes = n
			// The log keeps the raw bytes; the bus payload is sanitized since
			// subscribers decode it as text.
			e.eventBus.Publish(model.NewOutput(req.Job.ID, req.RunID, model.NewSharedText(strings.ToValidUTF8(chunk, "�")), e.clock.Now()))
		}
	}()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timeoutC = e.clock.After(timeout)
	}

	waitDone := make(chan struct{})
	var exitCode int32
	var waitErr error
	go func() {
		defer close(waitDone)
		exitCode, waitErr = handle.Wait()
	}()

	var killed, timedOut bool
	select {
	case <-waitDone:
	case <-timeoutC:
		timedOut = true
		handle.Kill()
		<-waitDone
	case <-h.killCh:
		killed = true
		handle.Kill()
		<-waitDone
	}

	<-readDone
	close(chunks)
	<-writerDone

	run.LogSizeBytes = totalBytes

	switch {
	case killed:
		e.finish(req, run, model.RunKilled, nil, "run was killed", exitCode)
	case timedOut:
		e.finish(req, run, model.RunFailed, nil, "execution timed out", exitCode)
	case waitErr != nil:
		e.finish(req, run, model.RunFailed, nil, waitErr.Error(), exitCode)
	default:
		code := exitCode
		e.finish(req, run, model.RunCompleted, &code, "", exitCode)
	}
}

func (e *Executor) readLoop(h *procspawn.Handle, out chan<- string, done chan<- error) {
	defer close(out)
	r := bufio.NewReaderSize(h.Output, readChunkSize)
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			out <- chunk
		}
		if err != nil {
			done <- nil
			return
		}
	}
}

func (e *Executor) finish(req model.DispatchRequest, run model.JobRun, status model.RunStatus, exitCode *int32, errMsg string, rawExit int32) {
	finishedAt := e.clock.Now()
	run.FinishedAt = &finishedAt
	run.Status = status
	run.ExitCode = exitCode
	run.Error = errMsg

	if err := e.logs.UpdateRun(run); err != nil {
		e.logger.Error("executor: could not update run record", "job_id", req.Job.ID, "run_id", req.RunID, "error", err)
	}

	// last_run_at/last_exit_code on the Job Store are written exactly once,
	// by the metadata-updater subscriber reacting to this event — not here.
	if status == model.RunCompleted {
		e.eventBus.Publish(model.NewCompleted(req.Job.ID, req.RunID, rawExit, finishedAt))
	} else {
		e.eventBus.Publish(model.NewFailed(req.Job.ID, req.RunID, errMsg, finishedAt))
	}

	if e.maxLogs > 0 {
		if err := e.logs.Cleanup(req.Job.ID, e.maxLogs); err != nil {
			e.logger.Warn("executor: log retention cleanup failed", "job_id", req.Job.ID, "error", err)
		}
	}
}

// writeEnvDump records a command header line followed by the resolved
// environment, sorted by key and wrapped in "=== Environment ===" markers,
// as the first bytes of the run's log, when the Job opted in via LogEnv.
// Failures here are logged but never fail the run.
func (e *Executor) writeEnvDump(jobID, runID uuid.UUID, job model.Job, args string, env []string) {
	effective := job.Execution.Value
	if args != "" {
		effective += " " + args
	}

	sorted := append([]string(nil), env...)
	sort.Strings(sorted)

	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\n", effective)
	b.WriteString("=== Environment ===\n")
	for _, kv := range sorted {
		b.WriteString(kv)
		b.WriteByte('\n')
	}
	b.WriteString("=== Environment ===\n")

	if _, err := e.logs.AppendLog(jobID, runID, b.String()); err != nil {
		e.logger.Warn("executor: could not write environment dump", "job_id", jobID, "run_id", runID, "error", err)
	}
}

// mergeEnv combines the host environment, the Job's configured env_vars,
// and any per-trigger overrides, in that increasing order of precedence.
func mergeEnv(jobEnv, triggerEnv map[string]string) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range jobEnv {
		merged[k] = v
	}
	for k, v := range triggerEnv {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}
