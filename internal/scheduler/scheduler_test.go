package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu   sync.Mutex
	reqs []models.SyncRequest
	fail map[string]bool
}

func (h *recordingHandler) Handle(_ context.Context, req models.SyncRequest) (models.SyncSummary, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reqs = append(h.reqs, req)
	if h.fail[req.ManagerAccountID] {
		return models.SyncSummary{}, errors.New("boom")
	}
	return models.SyncSummary{Mode: req.Mode, Outcome: models.OutcomeSuccess}, nil
}

func (h *recordingHandler) requests() []models.SyncRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.SyncRequest(nil), h.reqs...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNextRun(t *testing.T) {
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2024, 3, 15, 5, 59, 0, 0, time.UTC), time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)},
		{time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC), time.Date(2024, 3, 16, 6, 0, 0, 0, time.UTC)},
		{time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC), time.Date(2024, 4, 1, 6, 0, 0, 0, time.UTC)},
		{time.Date(2024, 3, 15, 8, 0, 0, 0, time.FixedZone("BRT", -3*3600)), time.Date(2024, 3, 16, 6, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NextRun(tc.now, 6), tc.now.String())
	}
}

func TestRunOnceTriggersEveryManager(t *testing.T) {
	h := &recordingHandler{fail: map[string]bool{"1111111111": true}}
	s := New([]string{"1111111111", "2222222222"}, 6, h, quietLogger())
	s.now = func() time.Time { return time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC) }

	s.RunOnce(context.Background())

	reqs := h.requests()
	require.Len(t, reqs, 2, "a failing manager does not stop the others")
	for i, m := range []string{"1111111111", "2222222222"} {
		assert.Equal(t, m, reqs[i].ManagerAccountID)
		assert.Equal(t, models.ModeIncremental, reqs[i].Mode)
		assert.Contains(t, reqs[i].CorrelationID, "scheduled-2024-03-15-"+m)
	}
}

func TestRunFiresAtScheduledHour(t *testing.T) {
	h := &recordingHandler{}
	s := New([]string{"1111111111"}, 6, h, quietLogger())
	s.now = func() time.Time { return time.Date(2024, 3, 15, 5, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan time.Time, 1)
	fired <- time.Now()
	calls := 0
	s.after = func(time.Duration) <-chan time.Time {
		calls++
		if calls > 1 {
			cancel()
			return make(chan time.Time)
		}
		return fired
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	assert.Len(t, h.requests(), 1)
}

func TestRunWithoutManagersReturns(t *testing.T) {
	s := New(nil, 6, &recordingHandler{}, quietLogger())
	s.Run(context.Background())
}
