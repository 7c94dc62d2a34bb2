package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"
	"github.com/Guizzs26/go-ads-sync/pkg/metrics"
)

// ErrRejected marks a trigger that will never succeed as sent. Consumers drop
// it instead of requeueing.
var ErrRejected = errors.New("trigger rejected")

// Runner executes one sync request
type Runner interface {
	Run(ctx context.Context, req models.SyncRequest) (models.SyncSummary, error)
}

// SummaryPublisher announces finished runs
type SummaryPublisher interface {
	PublishSummary(ctx context.Context, summary models.SyncSummary) error
}

// TriggerHandler turns trigger messages into sync runs
type TriggerHandler struct {
	runner    Runner
	publisher SummaryPublisher
	logger    *slog.Logger
}

// NewTriggerHandler creates a handler. publisher may be nil when summaries
// are only returned to the caller.
func NewTriggerHandler(runner Runner, publisher SummaryPublisher, logger *slog.Logger) *TriggerHandler {
	return &TriggerHandler{runner: runner, publisher: publisher, logger: logger}
}

// DecodeTrigger parses a trigger body. Unknown fields are rejected so typos
// in entity_types or days_back do not silently widen a run.
func DecodeTrigger(body []byte) (models.SyncRequest, error) {
	var req models.SyncRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: invalid trigger payload: %v", ErrRejected, err)
	}
	if req.ManagerAccountID == "" {
		return req, fmt.Errorf("%w: manager_account_id is required", ErrRejected)
	}
	return req, nil
}

// HandleMessage decodes body, runs the sync and publishes its summary
func (h *TriggerHandler) HandleMessage(ctx context.Context, body []byte) error {
	req, err := DecodeTrigger(body)
	if err != nil {
		metrics.TriggersHandled.WithLabelValues("rejected").Inc()
		h.logger.Error("Dropping malformed trigger", "error", err)
		return err
	}
	_, err = h.Handle(ctx, req)
	return err
}

// Handle runs req and publishes the summary. Configuration errors are
// returned wrapped in ErrRejected.
func (h *TriggerHandler) Handle(ctx context.Context, req models.SyncRequest) (summary models.SyncSummary, err error) {
	start := time.Now()
	l := h.logger.With(
		"correlation_id", req.CorrelationID,
		"manager_id", req.ManagerAccountID,
		"mode", req.Mode,
	)

	defer func() {
		status := "processed"
		switch {
		case errors.Is(err, ErrRejected):
			status = "rejected"
		case err != nil:
			status = "failed"
		}
		metrics.TriggersHandled.WithLabelValues(status).Inc()
	}()

	l.Info("Sync trigger received")
	summary, err = h.runner.Run(ctx, req)
	if err != nil {
		if syncerr.KindOf(err) == syncerr.KindConfiguration {
			l.Error("Trigger rejected by configuration check", "error", err)
			return summary, fmt.Errorf("%w: %w", ErrRejected, err)
		}
		l.Error("Sync run did not complete", "error", err)
		return summary, err
	}

	l.Info("Sync run finished",
		"run_id", summary.RunID,
		"outcome", summary.Outcome,
		"accounts", len(summary.PerAccount),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if h.publisher != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		// the run is already in the sync log; a lost announcement does not warrant a rerun
		if err := h.publisher.PublishSummary(pubCtx, summary); err != nil {
			l.Error("Failed to publish run summary", "run_id", summary.RunID, "error", err)
		}
	}
	return summary, nil
}
