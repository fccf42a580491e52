// Package scheduler triggers the daily ingestion run.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/thinkscotty/newsroom/internal/models"
)

// Runner runs one ingestion for a date.
type Runner interface {
	RunIngestion(ctx context.Context, date string, sources []models.FeedSource) (*models.RunReport, error)
}

// FeedLister returns the feeds to collect from.
type FeedLister interface {
	Enabled(ctx context.Context) ([]models.FeedSource, error)
}

type Scheduler struct {
	runner     Runner
	feeds      FeedLister
	schedule   string
	runOnStart bool
	loc        *time.Location
	timeout    time.Duration
	last       atomic.Pointer[models.RunReport]
}

// Options configures a Scheduler.
type Options struct {
	Schedule   string // standard five-field cron expression; empty disables the timer
	RunOnStart bool
	Location   *time.Location
	RunTimeout time.Duration // 0 means no limit
}

func New(runner Runner, feeds FeedLister, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		runner:     runner,
		feeds:      feeds,
		schedule:   opts.Schedule,
		runOnStart: opts.RunOnStart,
		loc:        opts.Location,
		timeout:    opts.RunTimeout,
	}
}

// Trigger runs an ingestion for date (today when empty) over the enabled feeds,
// bounded by the run timeout when one is set.
func (s *Scheduler) Trigger(ctx context.Context, date string) (*models.RunReport, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	sources, err := s.feeds.Enabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("load feeds: %w", err)
	}
	if len(sources) == 0 {
		slog.Warn("No enabled feeds")
	}
	report, err := s.runner.RunIngestion(ctx, date, sources)
	if err != nil {
		return nil, err
	}
	s.last.Store(report)
	return report, nil
}

// LastReport returns the report of the most recent run, or nil.
func (s *Scheduler) LastReport() *models.RunReport {
	return s.last.Load()
}

func (s *Scheduler) safeTrigger(ctx context.Context, reason string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in scheduled run", "reason", reason, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	slog.Info("Starting scheduled ingestion", "reason", reason)
	report, err := s.Trigger(ctx, "")
	if err != nil {
		slog.Error("Scheduled ingestion did not run", "reason", reason, "error", err)
		return
	}
	if report.Status == models.RunFailed {
		slog.Error("Scheduled ingestion failed", "run", report.RunID, "error", report.Error)
	}
}

// Run blocks until ctx is cancelled, firing ingestions on the cron schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(s.loc))
	if s.schedule != "" {
		if _, err := c.AddFunc(s.schedule, func() { s.safeTrigger(ctx, "cron") }); err != nil {
			return fmt.Errorf("schedule %q: %w", s.schedule, err)
		}
	}
	c.Start()
	slog.Info("Scheduler started", "schedule", s.schedule, "location", s.loc.String())

	if s.runOnStart {
		go s.safeTrigger(ctx, "startup")
	}

	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("Scheduler stopped")
	return nil
}
