package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// CronScheduler runs Jobs on cron expressions rather than fixed
// intervals, for background sweeps that should run at wall-clock
// boundaries (e.g. a nightly contest-window sweep) instead of drifting
// relative to process start time the way Scheduler's ticker-based jobs
// do.
type CronScheduler struct {
	logger *slog.Logger
	cron   *cron.Cron
	ctx    context.Context
}

// NewCronScheduler creates a cron-driven scheduler bound to ctx; jobs
// stop being scheduled once ctx is canceled.
func NewCronScheduler(ctx context.Context, logger *slog.Logger) *CronScheduler {
	return &CronScheduler{
		logger: logger,
		cron:   cron.New(),
		ctx:    ctx,
	}
}

// AddJob schedules job to run on every match of the standard 5-field
// cron expression. Returns an error if the expression does not parse.
func (s *CronScheduler) AddJob(expr string, job Job) error {
	_, err := s.cron.AddFunc(expr, func() {
		s.logger.Debug("running cron job", "job", job.Name(), "schedule", expr)
		if err := job.Run(s.ctx); err != nil {
			s.logger.Error("cron job failed", "job", job.Name(), "error", err)
		}
	})
	return err
}

// Start begins the cron scheduler's background goroutine.
func (s *CronScheduler) Start() {
	s.cron.Start()
	go func() {
		<-s.ctx.Done()
		s.cron.Stop()
	}()
}

// Stop halts the cron scheduler, waiting for in-flight jobs to finish.
func (s *CronScheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("cron scheduler stopped")
}
