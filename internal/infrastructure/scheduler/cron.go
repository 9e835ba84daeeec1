package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"ForumWatcher/internal/ports"
)

// CronScheduler drives recurring jobs via cron specs ("@every 60s" style).
type CronScheduler struct {
	cron *cron.Cron
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds an idle scheduler; call Start after registering
// jobs. A job instance that is still running when its next trigger fires is
// skipped, not run concurrently with itself.
func NewCronScheduler() *CronScheduler {
	return &CronScheduler{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Schedule registers a job under the given cron spec.
func (c *CronScheduler) Schedule(spec string, job func()) error {
	if _, err := c.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	return nil
}

// Start begins running registered jobs in their own goroutines.
func (c *CronScheduler) Start() {
	c.cron.Start()
}

// Stop halts scheduling and waits for running jobs, bounded by ctx.
func (c *CronScheduler) Stop(ctx context.Context) error {
	done := c.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
