// Package maintenance runs the background jobs: the per-minute ELO
// drain sweep and the daily change-log retention sweep.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/playrank/playrank/internal/changelog"
	"github.com/playrank/playrank/internal/elo"
)

// Config selects the schedules and retention window.
type Config struct {
	DrainSchedule    string
	SweepSchedule    string
	LogRetentionDays int
}

// Runner owns the cron instance.
type Runner struct {
	cfg    Config
	worker *elo.Worker
	log    *changelog.Writer
	logger *slog.Logger
	cron   *cron.Cron
}

// NewRunner creates the maintenance runner.
func NewRunner(cfg Config, worker *elo.Worker, log *changelog.Writer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		worker: worker,
		log:    log,
		logger: logger.With("component", "maintenance"),
	}
}

// Start registers the jobs and runs the cron loop until ctx is
// cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.cron = cron.New()

	if _, err := r.cron.AddFunc(r.cfg.DrainSchedule, func() {
		jobCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
		defer cancel()
		r.worker.Drain(jobCtx)
	}); err != nil {
		return fmt.Errorf("maintenance: register drain job: %w", err)
	}

	if _, err := r.cron.AddFunc(r.cfg.SweepSchedule, func() {
		jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		r.sweep(jobCtx)
	}); err != nil {
		return fmt.Errorf("maintenance: register sweep job: %w", err)
	}

	r.logger.Info("maintenance jobs scheduled",
		"drain", r.cfg.DrainSchedule,
		"sweep", r.cfg.SweepSchedule,
		"retention_days", r.cfg.LogRetentionDays)

	r.cron.Start()
	<-ctx.Done()
	stopCtx := r.cron.Stop()
	// Let in-flight jobs finish before returning.
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		r.logger.Warn("maintenance jobs did not stop in time")
	}
	return nil
}

// sweep deletes change-log rows past the retention window.
func (r *Runner) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -r.cfg.LogRetentionDays)
	deleted, err := r.log.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		r.logger.Error("retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		r.logger.Info("retention sweep finished", "deleted", deleted, "cutoff", cutoff)
	}
}
