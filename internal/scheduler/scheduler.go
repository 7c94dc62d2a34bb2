// Package scheduler triggers the daily incremental sync of every configured
// manager account.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/models"

	"github.com/google/uuid"
)

// Handler runs one sync request
type Handler interface {
	Handle(ctx context.Context, req models.SyncRequest) (models.SyncSummary, error)
}

type Scheduler struct {
	managers []string
	hour     int
	handler  Handler
	logger   *slog.Logger
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time
}

func New(managers []string, hourUTC int, handler Handler, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		managers: managers,
		hour:     hourUTC,
		handler:  handler,
		logger:   logger,
		now:      time.Now,
		after:    time.After,
	}
}

// NextRun returns the first hour:00 UTC strictly after now
func NextRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run blocks until ctx ends, firing once a day
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.managers) == 0 {
		s.logger.Info("No manager accounts scheduled, daily sync disabled")
		return
	}

	for {
		next := NextRun(s.now(), s.hour)
		s.logger.Info("Daily incremental sync scheduled", "next_run", next, "managers", len(s.managers))

		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping")
			return
		case <-s.after(next.Sub(s.now())):
		}
		s.RunOnce(ctx)
	}
}

// RunOnce triggers an incremental run for each manager in turn
func (s *Scheduler) RunOnce(ctx context.Context) {
	day := models.Day(s.now()).Format(time.DateOnly)
	for _, m := range s.managers {
		if ctx.Err() != nil {
			return
		}
		req := models.SyncRequest{
			CorrelationID:    "scheduled-" + day + "-" + m + "-" + uuid.NewString()[:8],
			ManagerAccountID: m,
			Mode:             models.ModeIncremental,
		}
		summary, err := s.handler.Handle(ctx, req)
		if err != nil {
			s.logger.Error("Scheduled sync failed", "manager_id", m, "error", err)
			continue
		}
		s.logger.Info("Scheduled sync done", "manager_id", m, "run_id", summary.RunID, "outcome", summary.Outcome)
	}
}
