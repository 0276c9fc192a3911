package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/corecron/acsd/internal/clock"
	"github.com/corecron/acsd/internal/cronexpr"
	"github.com/corecron/acsd/internal/jobstore"
	"github.com/corecron/acsd/internal/model"
)

func TestSchedulerFiresAtDueTime(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	eval := cronexpr.New()
	path := filepath.Join(t.TempDir(), "jobs.json")
	store, err := jobstore.Open(path, eval, clk, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	job, err := store.Create(model.NewJob{
		Name:      "every-minute",
		Schedule:  "* * * * *",
		Execution: model.Execution{Type: model.ExecutionShellCommand, Value: "echo hi"},
		Enabled:   true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fired := make(chan model.Job, 1)
	sched := New(store, eval, clk, nil, func(j model.Job) { fired <- j })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	// Let the loop register its initial timer before advancing the clock.
	time.Sleep(20 * time.Millisecond)
	clk.Advance(time.Minute)

	select {
	case j := <-fired:
		if j.ID != job.ID {
			t.Fatalf("expected job %s to fire, got %s", job.ID, j.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not fire the due job")
	}
}

func TestSchedulerNotifyPicksUpNewJob(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	eval := cronexpr.New()
	path := filepath.Join(t.TempDir(), "jobs.json")
	store, err := jobstore.Open(path, eval, clk, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	fired := make(chan model.Job, 1)
	sched := New(store, eval, clk, nil, func(j model.Job) { fired <- j })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	time.Sleep(20 * time.Millisecond)

	job, err := store.Create(model.NewJob{
		Name:      "just-added",
		Schedule:  "* * * * *",
		Execution: model.Execution{Type: model.ExecutionShellCommand, Value: "echo hi"},
		Enabled:   true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sched.Notify()

	time.Sleep(20 * time.Millisecond)
	clk.Advance(time.Minute)

	select {
	case j := <-fired:
		if j.ID != job.ID {
			t.Fatalf("expected job %s to fire, got %s", job.ID, j.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not pick up the newly added job")
	}
}

func TestSchedulerRecomputesAnchorWhenScheduleChanges(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	eval := cronexpr.New()
	path := filepath.Join(t.TempDir(), "jobs.json")
	store, err := jobstore.Open(path, eval, clk, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	job, err := store.Create(model.NewJob{
		Name:      "yearly",
		Schedule:  "0 0 1 1 *",
		Execution: model.Execution{Type: model.ExecutionShellCommand, Value: "echo hi"},
		Enabled:   true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fired := make(chan model.Job, 1)
	sched := New(store, eval, clk, nil, func(j model.Job) { fired <- j })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	// Let the loop anchor on the original (far-future) schedule first.
	time.Sleep(20 * time.Millisecond)

	newSchedule := "* * * * *"
	if _, err := store.Update(job.ID, model.JobPatch{Schedule: &newSchedule}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	sched.Notify()

	time.Sleep(20 * time.Millisecond)
	clk.Advance(time.Minute)

	select {
	case j := <-fired:
		if j.ID != job.ID {
			t.Fatalf("expected job %s to fire, got %s", job.ID, j.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler kept the stale anchor instead of recomputing after the schedule changed")
	}
}
