package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corecron/acsd/internal/bus"
	"github.com/corecron/acsd/internal/clock"
	"github.com/corecron/acsd/internal/config"
	"github.com/corecron/acsd/internal/cronexpr"
	"github.com/corecron/acsd/internal/dispatcher"
	"github.com/corecron/acsd/internal/executor"
	"github.com/corecron/acsd/internal/jobstore"
	"github.com/corecron/acsd/internal/lifecycle"
	"github.com/corecron/acsd/internal/logstore"
	"github.com/corecron/acsd/internal/procspawn"
	"github.com/corecron/acsd/internal/scheduler"
)

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(*configPath)
		},
	}
}

func runDaemon(configPath string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	jobsPath, err := cfg.JobsFilePath()
	if err != nil {
		return err
	}
	logsDir, err := cfg.LogsDirPath()
	if err != nil {
		return err
	}
	pidPath, err := cfg.PIDFilePath()
	if err != nil {
		return err
	}

	clk := clock.Real{}
	eval := cronexpr.New()

	jobs, err := jobstore.Open(jobsPath, eval, clk, logger.With("component", "jobstore"))
	if err != nil {
		return fmt.Errorf("acsd: open job store: %w", err)
	}
	logs, err := logstore.Open(logsDir, logger.With("component", "logstore"))
	if err != nil {
		return fmt.Errorf("acsd: open log store: %w", err)
	}
	eventBus := bus.New(cfg.EventBusCapacity)

	spawner := procspawn.New()
	exec := executor.New(spawner, logs, eventBus, clk, logger.With("component", "executor"), executor.Config{
		MaxLogFiles:    cfg.MaxLogFiles,
		DefaultTimeout: cfg.DefaultTimeout(),
	})
	disp := dispatcher.New(exec, logger.With("component", "dispatcher"))
	sched := scheduler.New(jobs, eval, clk, logger.With("component", "scheduler"), disp.DispatchScheduled)
	jobs.Wire(sched.Notify, eventBus.Publish)

	watcher, err := jobstore.NewWatcher(jobs, logger.With("component", "jobstore-watcher"))
	if err != nil {
		logger.Warn("acsd: could not create jobs-file watcher, external edits will require a restart", "error", err)
		watcher = nil
	}

	ctrl := lifecycle.New(pidPath, jobs, logs, eventBus, sched, disp, watcher, logger.With("component", "lifecycle"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("acsd: start: %w", err)
	}

	<-ctx.Done()
	return ctrl.Shutdown()
}
