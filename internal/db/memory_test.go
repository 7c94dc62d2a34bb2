package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const acct = "1112223333"

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	require.NoError(t, s.UpsertAccount(context.Background(), models.Account{ExternalID: acct, ManagerID: "9998887777", Name: "Shop"}))
	return s
}

func sampleTree() ([]models.Campaign, []models.AdGroup, []models.Keyword) {
	campaigns := []models.Campaign{
		{AccountID: acct, ExternalID: "101", Name: "Brand", Status: models.StatusEnabled},
		{AccountID: acct, ExternalID: "102", Name: "Generic", Status: models.StatusPaused},
	}
	groups := []models.AdGroup{
		{AccountID: acct, CampaignExternalID: "101", ExternalID: "201", Name: "Shoes", Status: models.StatusEnabled},
	}
	keywords := []models.Keyword{
		{AccountID: acct, CampaignExternalID: "101", AdGroupExternalID: "201", ExternalID: "401", Text: "red shoes", MatchType: models.MatchExact, Status: models.StatusEnabled},
	}
	return campaigns, groups, keywords
}

func TestMemoryStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	campaigns, groups, keywords := sampleTree()

	apply := func() {
		_, err := s.UpsertCampaigns(ctx, acct, campaigns)
		require.NoError(t, err)
		_, err = s.UpsertAdGroups(ctx, acct, groups)
		require.NoError(t, err)
		n, err := s.UpsertKeywords(ctx, acct, keywords)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	apply()
	changes := s.Changes()
	firstCampaigns := s.Campaigns(acct)

	apply()
	assert.Equal(t, changes, s.Changes(), "second application must not change any row")
	assert.Equal(t, firstCampaigns, s.Campaigns(acct))
	assert.Len(t, s.Keywords(acct), 1)
}

func TestMemoryStore_UpdateChangesRow(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	campaigns, _, _ := sampleTree()
	_, err := s.UpsertCampaigns(ctx, acct, campaigns)
	require.NoError(t, err)

	before := s.Changes()
	campaigns[0].Name = "Brand 2"
	_, err = s.UpsertCampaigns(ctx, acct, campaigns[:1])
	require.NoError(t, err)

	assert.Equal(t, before+1, s.Changes())
	assert.Equal(t, "Brand 2", s.Campaigns(acct)[0].Name)
	assert.Len(t, s.Campaigns(acct), 2)
}

func TestMemoryStore_MissingParentIsIntegrityViolation(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	campaigns, groups, keywords := sampleTree()
	_, err := s.UpsertCampaigns(ctx, acct, campaigns)
	require.NoError(t, err)
	_, err = s.UpsertAdGroups(ctx, acct, groups)
	require.NoError(t, err)

	orphan := keywords[0]
	orphan.ExternalID = "402"
	orphan.AdGroupExternalID = "999"

	_, err = s.UpsertKeywords(ctx, acct, []models.Keyword{keywords[0], orphan})
	require.Error(t, err)
	assert.True(t, errors.Is(err, syncerr.ErrIntegrity))
	assert.Empty(t, s.Keywords(acct), "failed batch must leave no rows")

	for _, c := range s.Commits() {
		assert.NotEqual(t, models.EntityKeywords, c.EntityType)
	}
}

func TestMemoryStore_UnknownAccount(t *testing.T) {
	s := NewMemoryStore()
	campaigns, _, _ := sampleTree()
	_, err := s.UpsertCampaigns(context.Background(), acct, campaigns)
	assert.Equal(t, syncerr.KindIntegrity, syncerr.KindOf(err))
}

func TestMemoryStore_PerformanceOverwritesAndChecksWindow(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	campaigns, _, _ := sampleTree()
	_, err := s.UpsertCampaigns(ctx, acct, campaigns)
	require.NoError(t, err)

	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	w := models.DateWindow{Start: day, End: day}
	ref := models.EntityRef{Level: models.LevelCampaign, AccountID: acct, CampaignID: "101"}

	_, err = s.UpsertPerformance(ctx, acct, w, []models.PerformanceRecord{{Owner: ref, Date: day, Clicks: 5}})
	require.NoError(t, err)
	_, err = s.UpsertPerformance(ctx, acct, w, []models.PerformanceRecord{{Owner: ref, Date: day, Clicks: 7}})
	require.NoError(t, err)

	rows := s.Performance(acct)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 7, rows[0].Clicks)

	_, err = s.UpsertPerformance(ctx, acct, w, []models.PerformanceRecord{{Owner: ref, Date: day.AddDate(0, 0, 1)}})
	assert.Equal(t, syncerr.KindIntegrity, syncerr.KindOf(err))

	missing := models.EntityRef{Level: models.LevelKeyword, AccountID: acct, CampaignID: "101", AdGroupID: "201", KeywordID: "401"}
	_, err = s.UpsertPerformance(ctx, acct, w, []models.PerformanceRecord{{Owner: missing, Date: day}})
	assert.Equal(t, syncerr.KindIntegrity, syncerr.KindOf(err))
}

func TestMemoryStore_FailBatchesLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	campaigns, _, _ := sampleTree()
	boom := syncerr.New(syncerr.KindTransient, "commit", "connection reset")
	s.FailBatches(func(_ string, et models.EntityType) error {
		if et == models.EntityCampaigns {
			return boom
		}
		return nil
	})

	_, err := s.UpsertCampaigns(ctx, acct, campaigns)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, s.Campaigns(acct))
	assert.Empty(t, s.Commits())
}

func TestMemoryStore_DeactivateMissingAccounts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, id := range []string{"1000000001", "1000000002", "1000000003"} {
		require.NoError(t, s.UpsertAccount(ctx, models.Account{ExternalID: id, ManagerID: "m"}))
	}
	require.NoError(t, s.UpsertAccount(ctx, models.Account{ExternalID: "2000000001", ManagerID: "other"}))

	n, err := s.DeactivateMissingAccounts(ctx, "m", []string{"1000000001"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a, _ := s.Account("1000000002")
	assert.False(t, a.Active)
	a, _ = s.Account("2000000001")
	assert.True(t, a.Active)

	require.NoError(t, s.UpsertAccount(ctx, models.Account{ExternalID: "1000000002", ManagerID: "m"}))
	a, _ = s.Account("1000000002")
	assert.True(t, a.Active, "rediscovered account is reactivated")
}

func TestMemoryStore_LockAccountSerializes(t *testing.T) {
	s := NewMemoryStore()
	unlock, err := s.LockAccount(context.Background(), acct)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.LockAccount(ctx, acct)
	assert.Equal(t, syncerr.KindCanceled, syncerr.KindOf(err))

	other, err := s.LockAccount(context.Background(), "4445556666")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := s.LockAccount(context.Background(), acct)
	require.NoError(t, err)
	again()
}

func TestMemoryStore_SyncLogLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	runID, err := s.Begin(ctx, models.SyncScope{ManagerAccountID: "m", Mode: models.ModeFull})
	require.NoError(t, err)

	res := models.AccountResult{
		AccountID:      acct,
		Outcome:        models.OutcomePartial,
		EntitiesSynced: map[models.EntityType]int{models.EntityCampaigns: 2},
	}
	require.NoError(t, s.RecordAccountResult(ctx, runID, res))
	res.Outcome = models.OutcomeSuccess
	require.NoError(t, s.RecordAccountResult(ctx, runID, res))

	entry, err := s.Finalize(ctx, runID, models.OutcomeSuccess)
	require.NoError(t, err)
	assert.True(t, entry.Finalized())
	require.Len(t, entry.Accounts, 1)
	assert.Equal(t, models.OutcomeSuccess, entry.Accounts[0].Outcome)

	err = s.RecordAccountResult(ctx, runID, res)
	assert.ErrorIs(t, err, ErrRunFinalized)
	_, err = s.Finalize(ctx, runID, models.OutcomeFailure)
	assert.ErrorIs(t, err, ErrRunFinalized)

	latest, err := s.LatestAccountResult(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.EntitiesSynced[models.EntityCampaigns])

	_, err = s.LatestAccountResult(ctx, "0000000000")
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@host:5432/db", migrateURL("postgres://u:p@host:5432/db"))
	assert.Equal(t, "pgx5://host/db", migrateURL("postgresql://host/db"))
	assert.Equal(t, "pgx5://host/db", migrateURL("pgx5://host/db"))
}
