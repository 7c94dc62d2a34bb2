package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerFunc func(ctx context.Context, req models.SyncRequest) (models.SyncSummary, error)

func (f runnerFunc) Run(ctx context.Context, req models.SyncRequest) (models.SyncSummary, error) {
	return f(ctx, req)
}

type recordingPublisher struct {
	published []models.SyncSummary
	err       error
}

func (p *recordingPublisher) PublishSummary(_ context.Context, s models.SyncSummary) error {
	p.published = append(p.published, s)
	return p.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeTrigger(t *testing.T) {
	req, err := DecodeTrigger([]byte(`{"manager_account_id":"123-456-7890","mode":"single_account","client_account_id":"1112223333","days_back":3,"entity_types":["campaigns","ads"]}`))
	require.NoError(t, err)
	assert.Equal(t, models.SyncRequest{
		ManagerAccountID: "123-456-7890",
		Mode:             models.ModeSingleAccount,
		ClientAccountID:  "1112223333",
		DaysBack:         3,
		EntityTypes:      []string{"campaigns", "ads"},
	}, req)

	for _, body := range []string{`{`, `{"mode":"full"}`, `{"manager_account_id":"1","days":3}`} {
		_, err := DecodeTrigger([]byte(body))
		assert.ErrorIs(t, err, ErrRejected, body)
	}
}

func TestHandlePublishesSummary(t *testing.T) {
	runID := uuid.New()
	var got models.SyncRequest
	runner := runnerFunc(func(_ context.Context, req models.SyncRequest) (models.SyncSummary, error) {
		got = req
		return models.SyncSummary{RunID: runID, Mode: req.Mode, Outcome: models.OutcomePartial}, nil
	})
	pub := &recordingPublisher{}
	h := NewTriggerHandler(runner, pub, quietLogger())

	err := h.HandleMessage(context.Background(), []byte(`{"manager_account_id":"1234567890","mode":"incremental"}`))
	require.NoError(t, err)
	assert.Equal(t, models.ModeIncremental, got.Mode)
	require.Len(t, pub.published, 1)
	assert.Equal(t, runID, pub.published[0].RunID)
}

func TestHandlePublishFailureIsNotRetried(t *testing.T) {
	runner := runnerFunc(func(context.Context, models.SyncRequest) (models.SyncSummary, error) {
		return models.SyncSummary{RunID: uuid.New()}, nil
	})
	pub := &recordingPublisher{err: errors.New("broker connection is closed")}
	h := NewTriggerHandler(runner, pub, quietLogger())

	_, err := h.Handle(context.Background(), models.SyncRequest{ManagerAccountID: "1234567890", Mode: models.ModeFull})
	assert.NoError(t, err)
}

func TestHandleClassifiesRunErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		rejected bool
	}{
		{"configuration", syncerr.New(syncerr.KindConfiguration, "plan run", "unknown mode"), true},
		{"canceled", syncerr.Wrap(syncerr.KindCanceled, "sync run", context.Canceled), false},
		{"sync log down", syncerr.New(syncerr.KindTransient, "begin sync log", "connection refused"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := runnerFunc(func(context.Context, models.SyncRequest) (models.SyncSummary, error) {
				return models.SyncSummary{}, tc.err
			})
			pub := &recordingPublisher{}
			h := NewTriggerHandler(runner, pub, quietLogger())

			_, err := h.Handle(context.Background(), models.SyncRequest{ManagerAccountID: "1234567890", Mode: models.ModeFull})
			require.Error(t, err)
			assert.Equal(t, tc.rejected, errors.Is(err, ErrRejected))
			assert.ErrorIs(t, err, tc.err)
			assert.Empty(t, pub.published)
		})
	}
}
