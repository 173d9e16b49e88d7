// Package jobs runs periodic maintenance on cron schedules.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const jobTimeout = 10 * time.Minute

// Func is a unit of periodic work.
type Func func(ctx context.Context) error

// Runner wraps a cron engine. A job still running when its next slot comes
// up is skipped for that slot.
type Runner struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(loc *time.Location, logger *slog.Logger) *Runner {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add schedules fn under a standard five-field spec or a descriptor such as
// "@daily".
func (r *Runner) Add(name, spec string, fn Func) error {
	_, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(r.ctx, jobTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			r.logger.Error("job failed", "job", name, "error", err)
			return
		}
		r.logger.Debug("job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule job %s %q: %w", name, spec, err)
	}
	r.logger.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

func (r *Runner) Len() int {
	return len(r.cron.Entries())
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (r *Runner) Stop() {
	r.cancel()
	<-r.cron.Stop().Done()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
