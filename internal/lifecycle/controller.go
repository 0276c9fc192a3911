package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corecron/acsd/internal/bus"
	"github.com/corecron/acsd/internal/dispatcher"
	"github.com/corecron/acsd/internal/jobstore"
	"github.com/corecron/acsd/internal/logstore"
	"github.com/corecron/acsd/internal/model"
	"github.com/corecron/acsd/internal/scheduler"
)

// busRecvTimeout bounds how long the metadata-updater subscriber waits on
// a single Recv call before checking for shutdown; it does not bound how
// long it waits overall.
const busRecvTimeout = time.Second

// Controller owns process-level startup and shutdown: acquiring the
// single-instance lock, sweeping orphaned log directories, running the
// Event Bus subscriber that writes run results back to the Job Store and
// clears a deleted job's logs, and tearing everything down in the right
// order.
type Controller struct {
	pidFile    *PIDFile
	jobs       *jobstore.Store
	logs       *logstore.Store
	eventBus   *bus.Bus
	scheduler  *scheduler.Scheduler
	dispatcher *dispatcher.Dispatcher
	watcher    *jobstore.Watcher
	logger     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Controller. pidFilePath may be empty to disable the
// single-instance lock (used by tests). watcher may be nil to disable the
// external-edit reload path.
func New(pidFilePath string, jobs *jobstore.Store, logs *logstore.Store, eventBus *bus.Bus, sched *scheduler.Scheduler, disp *dispatcher.Dispatcher, watcher *jobstore.Watcher, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	var pf *PIDFile
	if pidFilePath != "" {
		pf = NewPIDFile(pidFilePath)
	}
	return &Controller{
		pidFile:    pf,
		jobs:       jobs,
		logs:       logs,
		eventBus:   eventBus,
		scheduler:  sched,
		dispatcher: disp,
		watcher:    watcher,
		logger:     logger,
	}
}

// Start acquires the single-instance lock, sweeps orphaned log
// directories, and begins the Scheduler and the metadata-updater
// subscriber.
func (c *Controller) Start(ctx context.Context) error {
	if c.pidFile != nil {
		if err := c.pidFile.Acquire(); err != nil {
			return err
		}
	}

	known := make(map[uuid.UUID]struct{})
	for _, j := range c.jobs.List() {
		known[j.ID] = struct{}{}
	}
	if err := c.logs.SweepOrphans(known); err != nil {
		c.logger.Warn("lifecycle: orphan log sweep failed", "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	c.scheduler.Start(runCtx)
	if c.watcher != nil {
		if err := c.watcher.Start(); err != nil {
			c.logger.Warn("lifecycle: could not start jobs-file watcher", "error", err)
		}
	}
	go func() {
		defer close(c.done)
		c.runEventSubscriber(runCtx)
	}()

	c.logger.Info("lifecycle: daemon started")
	return nil
}

// Shutdown stops the Scheduler, kills every in-flight run, releases the
// single-instance lock, and waits for the event subscriber to exit.
func (c *Controller) Shutdown() error {
	c.logger.Info("lifecycle: shutting down")
	if c.cancel != nil {
		c.cancel()
	}
	if c.watcher != nil {
		c.watcher.Stop()
	}
	c.scheduler.Stop()
	c.dispatcher.KillAll()
	if c.done != nil {
		<-c.done
	}
	if c.pidFile != nil {
		if err := c.pidFile.Release(); err != nil {
			return fmt.Errorf("lifecycle: release pid file: %w", err)
		}
	}
	return nil
}

// runEventSubscriber is the metadata-updater: it removes a deleted job's
// log history and writes LastRunAt/LastExitCode back to the Job Store as
// terminal run events arrive. It does not wake the Scheduler; the Job
// Store does that itself through Wire.
func (c *Controller) runEventSubscriber(ctx context.Context) {
	sub := c.eventBus.Subscribe()
	for {
		recvCtx, cancel := context.WithTimeout(ctx, busRecvTimeout)
		ev, lagged, ok := sub.Recv(recvCtx)
		cancel()
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if lagged > 0 {
			c.logger.Warn("lifecycle: metadata-updater subscriber lagged", "skipped", lagged)
		}

		switch ev.Kind {
		case model.EventJobChanged:
			// jobstore.Store.Wire already pulses the Scheduler directly on
			// every mutation; this subscriber only needs to react to the
			// Removed case by clearing that job's log history.
			if ev.Changed.Change == model.JobRemoved {
				if err := c.logs.DeleteJob(ev.Changed.JobID); err != nil {
					c.logger.Warn("lifecycle: could not delete log history for removed job",
						"job_id", ev.Changed.JobID, "error", err)
				}
			}
		case model.EventCompleted:
			exitCode := ev.Completed.ExitCode
			if err := c.jobs.RecordRun(ev.Completed.JobID, ev.Completed.Timestamp, &exitCode); err != nil {
				c.logger.Warn("lifecycle: could not record completed run on job",
					"job_id", ev.Completed.JobID, "error", err)
			}
		case model.EventFailed:
			if err := c.jobs.RecordRun(ev.Failed.JobID, ev.Failed.Timestamp, nil); err != nil {
				c.logger.Warn("lifecycle: could not record failed run on job",
					"job_id", ev.Failed.JobID, "error", err)
			}
		}
	}
}
