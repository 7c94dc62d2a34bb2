//go:build integration

package db

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("ads"),
		postgres.WithUsername("ads"),
		postgres.WithPassword("ads"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, Migrate(url, logger))

	store, err := NewPostgresStore(ctx, url, 1, logger)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestPostgresStore_UpsertTree(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	require.NoError(t, s.UpsertAccount(ctx, models.Account{ExternalID: acct, ManagerID: "9998887777", Name: "Shop"}))

	campaigns, groups, keywords := sampleTree()
	ads := []models.Ad{{
		AccountID: acct, CampaignExternalID: "101", AdGroupExternalID: "201",
		ExternalID: "301", Status: models.StatusEnabled, Creative: []byte(`{"headlines":["Buy"]}`),
	}}

	for range 2 {
		n, err := s.UpsertCampaigns(ctx, acct, campaigns)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		_, err = s.UpsertAdGroups(ctx, acct, groups)
		require.NoError(t, err)
		_, err = s.UpsertAds(ctx, acct, ads)
		require.NoError(t, err)
		_, err = s.UpsertKeywords(ctx, acct, keywords)
		require.NoError(t, err)
	}

	var count int
	require.NoError(t, s.pool.QueryRow(ctx, "SELECT count(*) FROM campaigns").Scan(&count))
	assert.Equal(t, 2, count)
	require.NoError(t, s.pool.QueryRow(ctx, "SELECT count(*) FROM keywords").Scan(&count))
	assert.Equal(t, 1, count)

	orphan := keywords[0]
	orphan.ExternalID = "402"
	orphan.AdGroupExternalID = "999"
	_, err := s.UpsertKeywords(ctx, acct, []models.Keyword{orphan})
	assert.Equal(t, syncerr.KindIntegrity, syncerr.KindOf(err))
	require.NoError(t, s.pool.QueryRow(ctx, "SELECT count(*) FROM keywords").Scan(&count))
	assert.Equal(t, 1, count)

	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	w := models.DateWindow{Start: day, End: day}
	ref := models.EntityRef{Level: models.LevelKeyword, AccountID: acct, CampaignID: "101", AdGroupID: "201", KeywordID: "401"}
	for _, clicks := range []int64{3, 9} {
		_, err := s.UpsertPerformance(ctx, acct, w, []models.PerformanceRecord{{Owner: ref, Date: day, Clicks: clicks}})
		require.NoError(t, err)
	}
	var clicks int64
	require.NoError(t, s.pool.QueryRow(ctx, "SELECT clicks FROM performance_records WHERE owner_key = $1", ref.Key()).Scan(&clicks))
	assert.EqualValues(t, 9, clicks)
}

func TestPostgresStore_SyncLogIsSealed(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)

	runID, err := s.Begin(ctx, models.SyncScope{ManagerAccountID: "m", Mode: models.ModeIncremental})
	require.NoError(t, err)
	res := models.AccountResult{AccountID: acct, Outcome: models.OutcomeSuccess, EntitiesSynced: map[models.EntityType]int{models.EntityAds: 4}}
	require.NoError(t, s.RecordAccountResult(ctx, runID, res))

	entry, err := s.Finalize(ctx, runID, models.OutcomeSuccess)
	require.NoError(t, err)
	assert.True(t, entry.Finalized())
	require.Len(t, entry.Accounts, 1)
	assert.Equal(t, 4, entry.Accounts[0].EntitiesSynced[models.EntityAds])

	assert.ErrorIs(t, s.RecordAccountResult(ctx, runID, res), ErrRunFinalized)

	_, err = s.pool.Exec(ctx, "UPDATE sync_runs SET outcome = 'failure' WHERE id = $1", runID)
	assert.ErrorIs(t, classify("tamper", err), ErrRunFinalized)

	latest, err := s.LatestAccountResult(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, latest.Outcome)
}

func TestPostgresStore_LockAccount(t *testing.T) {
	s := newPostgresStore(t)
	unlock, err := s.LockAccount(context.Background(), acct)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = s.LockAccount(ctx, acct)
	require.Error(t, err)

	unlock()
	again, err := s.LockAccount(context.Background(), acct)
	require.NoError(t, err)
	again()
}
