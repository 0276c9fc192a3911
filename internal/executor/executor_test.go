package executor

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/corecron/acsd/internal/bus"
	"github.com/corecron/acsd/internal/clock"
	"github.com/corecron/acsd/internal/cronexpr"
	"github.com/corecron/acsd/internal/jobstore"
	"github.com/corecron/acsd/internal/logstore"
	"github.com/corecron/acsd/internal/model"
	"github.com/corecron/acsd/internal/procspawn"
)

func newTestExecutor(t *testing.T) (*Executor, *jobstore.Store, *logstore.Store, *bus.Bus, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	dir := t.TempDir()

	jobs, err := jobstore.Open(filepath.Join(dir, "jobs.json"), cronexpr.New(), clk, nil)
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	logs, err := logstore.Open(filepath.Join(dir, "logs"), nil)
	if err != nil {
		t.Fatalf("logstore.Open: %v", err)
	}
	eventBus := bus.New(64)

	e := New(procspawn.New(), logs, eventBus, clk, nil, Config{
		MaxLogFiles:    10,
		DefaultTimeout: 5 * time.Second,
	})
	return e, jobs, logs, eventBus, clk
}

func newShellJob(t *testing.T, jobs *jobstore.Store, cmd string) model.Job {
	t.Helper()
	j, err := jobs.Create(model.NewJob{
		Name:      "t-" + uuid.NewString(),
		Schedule:  "*/5 * * * *",
		Execution: model.Execution{Type: model.ExecutionShellCommand, Value: cmd},
		Enabled:   true,
	})
	if err != nil {
		t.Fatalf("jobs.Create: %v", err)
	}
	return j
}

func collectEvents(t *testing.T, sub *bus.Subscription, n int) []model.JobEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events := make([]model.JobEvent, 0, n)
	for len(events) < n {
		ev, _, ok := sub.Recv(ctx)
		if !ok {
			t.Fatalf("bus closed/timed out after %d of %d events", len(events), n)
		}
		events = append(events, ev)
	}
	return events
}

func TestStartRunsCommandAndRecordsCompletion(t *testing.T) {
	e, jobs, logs, eventBus, _ := newTestExecutor(t)
	job := newShellJob(t, jobs, "echo hello-world")
	sub := eventBus.Subscribe()

	runID := uuid.New()
	h := e.Start(context.Background(), model.DispatchRequest{Job: job, RunID: runID})
	<-h.Done()

	events := collectEvents(t, sub, 3)
	if events[0].Kind != model.EventStarted {
		t.Fatalf("expected first event to be Started, got %s", events[0].Kind)
	}
	var sawOutput, sawCompleted bool
	for _, ev := range events {
		switch ev.Kind {
		case model.EventOutput:
			sawOutput = true
			if !strings.Contains(ev.Output.Data.String(), "hello-world") {
				t.Fatalf("expected output chunk to contain command output, got %q", ev.Output.Data.String())
			}
		case model.EventCompleted:
			sawCompleted = true
			if ev.Completed.ExitCode != 0 {
				t.Fatalf("expected exit code 0, got %d", ev.Completed.ExitCode)
			}
		}
	}
	if !sawOutput {
		t.Fatal("expected an Output event")
	}
	if !sawCompleted {
		t.Fatal("expected a Completed event")
	}

	// The Job Store's last_run_at/last_exit_code are written by the
	// lifecycle metadata-updater subscriber, not the Executor itself; the
	// Log Store's own run record is the Executor's responsibility.
	run, err := logs.GetRun(job.ID, runID)
	if err != nil {
		t.Fatalf("logs.GetRun: %v", err)
	}
	if run.Status != model.RunCompleted {
		t.Fatalf("expected Completed status, got %s", run.Status)
	}
	if run.ExitCode == nil || *run.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %+v", run.ExitCode)
	}
}

func TestStartReportsNonZeroExitAsCompleted(t *testing.T) {
	e, jobs, _, eventBus, _ := newTestExecutor(t)
	job := newShellJob(t, jobs, "exit 7")
	sub := eventBus.Subscribe()

	h := e.Start(context.Background(), model.DispatchRequest{Job: job, RunID: uuid.New()})
	<-h.Done()

	events := collectEvents(t, sub, 2)
	last := events[len(events)-1]
	if last.Kind != model.EventCompleted {
		t.Fatalf("expected a terminal Completed event (non-zero exit is not an infra failure), got %s", last.Kind)
	}
	if last.Completed.ExitCode != 7 {
		t.Fatalf("expected exit code 7, got %d", last.Completed.ExitCode)
	}
}

func TestKillTerminatesRunAndReportsKilled(t *testing.T) {
	e, jobs, _, eventBus, _ := newTestExecutor(t)
	job := newShellJob(t, jobs, "sleep 30")
	sub := eventBus.Subscribe()

	h := e.Start(context.Background(), model.DispatchRequest{Job: job, RunID: uuid.New()})
	h.Kill()
	<-h.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var sawFailed bool
	for {
		ev, _, ok := sub.Recv(ctx)
		if !ok {
			t.Fatal("bus closed before a terminal event was observed")
		}
		if ev.Kind == model.EventFailed {
			sawFailed = true
			break
		}
	}
	if !sawFailed {
		t.Fatal("expected a Failed event for a killed run (the bus has no separate Killed variant)")
	}
}

func TestStartReportsTimeoutWithExpectedErrorSubstring(t *testing.T) {
	e, jobs, _, eventBus, clk := newTestExecutor(t)
	job, err := jobs.Create(model.NewJob{
		Name:        "t-" + uuid.NewString(),
		Schedule:    "*/5 * * * *",
		Execution:   model.Execution{Type: model.ExecutionShellCommand, Value: "sleep 10"},
		Enabled:     true,
		TimeoutSecs: 1,
	})
	if err != nil {
		t.Fatalf("jobs.Create: %v", err)
	}
	sub := eventBus.Subscribe()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				clk.Advance(2 * time.Second)
			}
		}
	}()

	h := e.Start(context.Background(), model.DispatchRequest{Job: job, RunID: uuid.New()})
	<-h.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		ev, _, ok := sub.Recv(ctx)
		if !ok {
			t.Fatal("bus closed before a Failed event was observed")
		}
		if ev.Kind == model.EventFailed {
			if !strings.Contains(ev.Failed.Error, "timed out") {
				t.Fatalf("expected error to contain %q, got %q", "timed out", ev.Failed.Error)
			}
			return
		}
	}
}

func TestOutputEventSanitizesInvalidUTF8ButLogKeepsRawBytes(t *testing.T) {
	e, jobs, logs, eventBus, _ := newTestExecutor(t)
	// Octal escapes are portable across /bin/sh implementations; \377\376
	// are the invalid UTF-8 lead bytes 0xff 0xfe.
	job := newShellJob(t, jobs, `printf '\377\376hello'`)
	sub := eventBus.Subscribe()

	runID := uuid.New()
	h := e.Start(context.Background(), model.DispatchRequest{Job: job, RunID: runID})
	<-h.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var sawSanitizedOutput bool
	for {
		ev, _, ok := sub.Recv(ctx)
		if !ok {
			t.Fatal("bus closed before an Output event was observed")
		}
		if ev.Kind == model.EventOutput {
			if strings.ContainsRune(ev.Output.Data.String(), 0xff) {
				t.Fatal("expected invalid UTF-8 bytes to be replaced in the bus payload")
			}
			if !strings.Contains(ev.Output.Data.String(), "hello") {
				continue
			}
			sawSanitizedOutput = true
			break
		}
		if ev.Kind == model.EventCompleted || ev.Kind == model.EventFailed {
			break
		}
	}
	if !sawSanitizedOutput {
		t.Fatal("expected a sanitized Output event containing the valid trailing text")
	}

	raw, err := logs.ReadLog(job.ID, runID, 0)
	if err != nil {
		t.Fatalf("logs.ReadLog: %v", err)
	}
	if !strings.Contains(raw, "\xff\xfehello") {
		t.Fatal("expected the log file to retain the raw, unsanitized bytes")
	}
}

func TestEnvDumpIsSortedAndWrappedInMarkers(t *testing.T) {
	e, jobs, logs, _, _ := newTestExecutor(t)
	job, err := jobs.Create(model.NewJob{
		Name:      "t-" + uuid.NewString(),
		Schedule:  "*/5 * * * *",
		Execution: model.Execution{Type: model.ExecutionShellCommand, Value: "true"},
		Enabled:   true,
		LogEnv:    true,
		EnvVars:   map[string]string{"ZETA": "1", "ALPHA": "2"},
	})
	if err != nil {
		t.Fatalf("jobs.Create: %v", err)
	}

	runID := uuid.New()
	h := e.Start(context.Background(), model.DispatchRequest{Job: job, RunID: runID})
	<-h.Done()

	out, err := logs.ReadLog(job.ID, runID, 0)
	if err != nil {
		t.Fatalf("logs.ReadLog: %v", err)
	}
	if !strings.HasPrefix(out, "$ true\n") {
		t.Fatalf("expected a command header line, got %q", out)
	}
	markers := strings.Count(out, "=== Environment ===")
	if markers != 2 {
		t.Fatalf("expected two Environment markers wrapping the dump, got %d", markers)
	}
	alphaIdx := strings.Index(out, "ALPHA=2")
	zetaIdx := strings.Index(out, "ZETA=1")
	if alphaIdx == -1 || zetaIdx == -1 || alphaIdx > zetaIdx {
		t.Fatalf("expected env vars sorted by key (ALPHA before ZETA), got %q", out)
	}
}

func TestDispatchRequestTriggerOverridesAppearInTriggerParams(t *testing.T) {
	e, jobs, logs, _, _ := newTestExecutor(t)
	job := newShellJob(t, jobs, "echo $GREETING")

	runID := uuid.New()
	h := e.Start(context.Background(), model.DispatchRequest{
		Job:   job,
		RunID: runID,
		Env:   map[string]string{"GREETING": "hi-from-trigger"},
	})
	<-h.Done()

	run, err := logs.GetRun(job.ID, runID)
	if err != nil {
		t.Fatalf("logs.GetRun: %v", err)
	}
	if run.ExitCode == nil || *run.ExitCode != 0 {
		t.Fatalf("expected successful run, got %+v", run.ExitCode)
	}
	if run.TriggerParams == nil || run.TriggerParams.Env["GREETING"] != "hi-from-trigger" {
		t.Fatalf("expected trigger env override in the run's TriggerParams, got %+v", run.TriggerParams)
	}

	output, err := logs.ReadLog(job.ID, runID, 0)
	if err != nil {
		t.Fatalf("logs.ReadLog: %v", err)
	}
	if !strings.Contains(output, "hi-from-trigger") {
		t.Fatalf("expected trigger env override to reach the child process, got log %q", output)
	}
}
