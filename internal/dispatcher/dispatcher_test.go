package dispatcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/corecron/acsd/internal/bus"
	"github.com/corecron/acsd/internal/clock"
	"github.com/corecron/acsd/internal/cronexpr"
	"github.com/corecron/acsd/internal/executor"
	"github.com/corecron/acsd/internal/jobstore"
	"github.com/corecron/acsd/internal/logstore"
	"github.com/corecron/acsd/internal/model"
	"github.com/corecron/acsd/internal/procspawn"
)

func newTestExecutor(t *testing.T) (*executor.Executor, *jobstore.Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	eval := cronexpr.New()
	jobsPath := filepath.Join(t.TempDir(), "jobs.json")
	jobs, err := jobstore.Open(jobsPath, eval, clk, nil)
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	logs, err := logstore.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("logstore.Open: %v", err)
	}
	eventBus := bus.New(64)
	exec := executor.New(procspawn.New(), logs, eventBus, clk, nil, executor.Config{DefaultTimeout: 5 * time.Second})
	return exec, jobs, clk
}

func TestDispatchReplacesActiveRunInsteadOfRejecting(t *testing.T) {
	exec, jobs, _ := newTestExecutor(t)
	disp := New(exec, nil)

	job, err := jobs.Create(model.NewJob{
		Name:      "sleeper",
		Schedule:  "* * * * *",
		Execution: model.Execution{Type: model.ExecutionShellCommand, Value: "sleep 1"},
		Enabled:   true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := model.DispatchRequest{Job: job, RunID: model.NewID()}
	h1, err := disp.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	defer h1.Kill()

	req2 := model.DispatchRequest{Job: job, RunID: model.NewID()}
	h2, err := disp.Dispatch(context.Background(), req2)
	if err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	defer h2.Kill()

	if !disp.IsActive(job.ID) {
		t.Fatal("expected job to be reported active")
	}
	if h1.RunID == h2.RunID {
		t.Fatal("expected distinct run IDs")
	}

	select {
	case <-h1.Done():
		t.Fatal("replaced run must not be killed, only untracked")
	default:
	}
}
