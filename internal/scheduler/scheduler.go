// Package scheduler triggers settlement batches and order archival on a
// timetable.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/everest/internal/domain"
	"github.com/alanyoungcy/everest/internal/notify"
	"github.com/alanyoungcy/everest/internal/service"
)

// Settler runs one settlement batch.
type Settler interface {
	ExecuteDueOrders(ctx context.Context) (service.BatchReport, error)
}

// Config controls the timetable.
type Config struct {
	Interval    time.Duration
	RunOnStart  bool
	ArchiveCron string
	// ArchiveAfter is how long an executed order stays hot before archival.
	ArchiveAfter time.Duration
}

// Scheduler runs the settlement loop and, when an archiver is set, the
// archive loop.
type Scheduler struct {
	settler  Settler
	archiver domain.Archiver
	notifier *notify.Notifier
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Scheduler. archiver and notifier may be nil.
func New(settler Settler, archiver domain.Archiver, notifier *notify.Notifier, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Scheduler{
		settler:  settler,
		archiver: archiver,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Run blocks until ctx is cancelled or a loop fails to start.
func (s *Scheduler) Run(ctx context.Context) error {
	var cron Cron
	if s.archiver != nil {
		var err error
		if cron, err = ParseCron(s.cfg.ArchiveCron); err != nil {
			return fmt.Errorf("scheduler: archive cron %q: %w", s.cfg.ArchiveCron, err)
		}
	}

	s.logger.Info("scheduler starting",
		slog.Duration("interval", s.cfg.Interval),
		slog.Bool("archive", s.archiver != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.settleLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("settlement loop: %w", err)
	})

	if s.archiver != nil {
		g.Go(func() error {
			err := s.archiveLoop(ctx, cron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archive loop: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("scheduler stopped cleanly")
	return nil
}

func (s *Scheduler) settleLoop(ctx context.Context) error {
	if s.cfg.RunOnStart {
		s.Settle(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Settle(ctx)
		}
	}
}

// Settle runs one batch and reports the outcome. A batch already running
// elsewhere is not an error.
func (s *Scheduler) Settle(ctx context.Context) {
	report, err := s.settler.ExecuteDueOrders(ctx)
	switch {
	case errors.Is(err, domain.ErrLockHeld):
		s.logger.Info("settlement batch skipped, another run holds the lock")
		return
	case err != nil:
		s.logger.Error("settlement batch failed", slog.String("error", err.Error()))
		s.alert(ctx, notify.Alert{Event: notify.EventBatchFailed, Title: "Settlement batch failed", Message: err.Error()})
		return
	}

	s.logger.Info("settlement batch finished",
		slog.String("run_id", report.RunID),
		slog.Int("due", report.Due),
		slog.Int("executed", report.Executed),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed()),
		slog.Duration("duration", report.Duration),
	)

	if report.Failed() > 0 {
		s.alert(ctx, notify.Alert{
			Event:   notify.EventBatchFailed,
			Title:   fmt.Sprintf("Settlement batch %s: %d of %d orders failed", report.RunID, report.Failed(), report.Due),
			Message: failureLines(report),
		})
		return
	}
	if report.Executed > 0 {
		s.alert(ctx, notify.Alert{
			Event:   notify.EventBatchDone,
			Title:   "Settlement batch completed",
			Message: fmt.Sprintf("run %s settled %d orders", report.RunID, report.Executed),
		})
	}
}

func (s *Scheduler) archiveLoop(ctx context.Context, cron Cron) error {
	for {
		next, err := cron.Next(s.now().UTC())
		if err != nil {
			return err
		}
		s.logger.Info("archive waiting for next trigger", slog.Time("next_run", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.Archive(ctx)
		}
	}
}

// Archive ships orders executed more than ArchiveAfter ago.
func (s *Scheduler) Archive(ctx context.Context) {
	cutoff := domain.DateOf(s.now().UTC().Add(-s.cfg.ArchiveAfter))
	res, err := s.archiver.ArchiveOrders(ctx, cutoff)
	if err != nil {
		s.logger.Error("archive run failed", slog.String("error", err.Error()))
		s.alert(ctx, notify.Alert{
			Event:   notify.EventArchiveFailed,
			Title:   "Order archive failed",
			Message: fmt.Sprintf("cutoff %s: %v", cutoff.Format(domain.DateLayout), err),
		})
		return
	}
	s.logger.Info("archive run finished",
		slog.String("path", res.Path),
		slog.Int64("orders", res.Orders),
		slog.Bool("skipped", res.Skipped),
	)
}

func (s *Scheduler) alert(ctx context.Context, a notify.Alert) {
	if err := s.notifier.Notify(ctx, a); err != nil {
		s.logger.Warn("notification failed",
			slog.String("event", a.Event),
			slog.String("error", err.Error()),
		)
	}
}

func failureLines(report service.BatchReport) string {
	msgs := report.FailureMessages()
	var b strings.Builder
	for _, id := range report.FailedIDs() {
		fmt.Fprintf(&b, "order %d: %s\n", id, msgs[id])
	}
	return strings.TrimSuffix(b.String(), "\n")
}
