package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

func newScheduler(logger *slog.Logger) *cron.Cron {
	cl := cronLogger{logger: logger.With("component", "scheduler")}
	return cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

// scheduleJobs registers the tracker sweep and the blacklist refresh. An empty
// schedule disables the job.
func (app *application) scheduleJobs(ctx context.Context) error {
	if spec := app.config.Tracker.SweepSchedule; spec != "" {
		if _, err := app.scheduler.AddFunc(spec, func() { app.sweepTracker(ctx) }); err != nil {
			return fmt.Errorf("invalid tracker sweep schedule %q: %w", spec, err)
		}
	}

	if spec := app.config.Blacklist.RefreshSchedule; spec != "" && app.blacklist.Enabled() {
		if _, err := app.scheduler.AddFunc(spec, func() { app.refreshBlacklist(ctx) }); err != nil {
			return fmt.Errorf("invalid blacklist refresh schedule %q: %w", spec, err)
		}
	}
	return nil
}

func (app *application) sweepTracker(ctx context.Context) {
	if _, err := app.tracker.Sweep(ctx); err != nil {
		app.logger.Error("tracker sweep failed", "error", err)
	}
}

// refreshBlacklist keeps the previous list on failure; Refresh logs why.
func (app *application) refreshBlacklist(ctx context.Context) {
	_ = app.blacklist.Refresh(ctx)
}
