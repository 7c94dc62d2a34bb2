package fetcher

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/ads"
	"github.com/Guizzs26/go-ads-sync/internal/ads/adstest"
	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const account = "1000000001"

var today = time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

func newFetcher(c ads.Client, opts ...Option) *Fetcher {
	opts = append([]Option{WithClock(func() time.Time { return today })}, opts...)
	return New(c, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestCampaignsPaginatesAndNormalizes(t *testing.T) {
	fake := adstest.New()
	fake.PageSize = 1
	fake.AddRows(account, "campaign",
		adstest.Campaign("1", "  Brand   Search ", "ENABLED"),
		adstest.Campaign("2", "Generic", "PAUSED"),
		adstest.Campaign("3", "Odd", "SOMETHING_NEW"),
	)

	got, err := Collect(newFetcher(fake).Campaigns(context.Background(), account))
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, 3, fake.Calls(account, "campaign"))
	assert.Equal(t, "Brand Search", got[0].Name)
	assert.Equal(t, models.StatusEnabled, got[0].Status)
	assert.Equal(t, models.StatusPaused, got[1].Status)
	assert.Equal(t, models.StatusUnknown, got[2].Status)
	assert.Equal(t, int64(5000000), got[0].BudgetMicros)
	assert.Equal(t, "DAILY", got[0].BudgetType)
	assert.Equal(t, account, got[0].AccountID)
}

func TestCampaignsDropsRemovedPastRetention(t *testing.T) {
	old := adstest.Campaign("1", "Old", "REMOVED")
	old["campaign.end_date"] = today.AddDate(0, 0, -90).Format("2006-01-02")
	recent := adstest.Campaign("2", "Recent", "REMOVED")
	recent["campaign.end_date"] = today.AddDate(0, 0, -3).Format("2006-01-02")

	fake := adstest.New()
	fake.AddRows(account, "campaign", old, recent)

	got, err := Collect(newFetcher(fake, WithRemovedRetention(30)).Campaigns(context.Background(), account))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ExternalID)
}

func TestChildrenOfPurgedCampaignsAreDropped(t *testing.T) {
	old := today.AddDate(0, 0, -90)
	recent := today.AddDate(0, 0, -3)

	fake := adstest.New()
	fake.AddRows(account, "ad_group",
		adstest.InCampaign(adstest.AdGroup("1", "10", "Old"), "REMOVED", old),
		adstest.InCampaign(adstest.AdGroup("2", "20", "Recent"), "REMOVED", recent),
		adstest.InCampaign(adstest.AdGroup("3", "30", "Live"), "ENABLED", time.Time{}),
	)
	fake.AddRows(account, "ad_group_criterion",
		adstest.InCampaign(adstest.Keyword("1", "10", "100", "gone", "EXACT"), "REMOVED", old),
		adstest.InCampaign(adstest.Keyword("3", "30", "300", "kept", "EXACT"), "ENABLED", time.Time{}),
	)
	fake.AddRows(account, "metrics:keyword_view",
		adstest.InCampaign(adstest.Metrics(today, 1, 1, 1, "campaign.id", "1", "ad_group.id", "10", "ad_group_criterion.criterion_id", "100"), "REMOVED", old),
		adstest.InCampaign(adstest.Metrics(today, 1, 1, 1, "campaign.id", "3", "ad_group.id", "30", "ad_group_criterion.criterion_id", "300"), "ENABLED", time.Time{}),
	)
	fake.AddRows(account, "metrics:customer", adstest.Metrics(today, 5, 1, 1))
	f := newFetcher(fake, WithRemovedRetention(30))

	groups, err := Collect(f.AdGroups(context.Background(), account))
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "20", groups[0].ExternalID)
	assert.Equal(t, "30", groups[1].ExternalID)

	keywords, err := Collect(f.Keywords(context.Background(), account))
	require.NoError(t, err)
	require.Len(t, keywords, 1)
	assert.Equal(t, "300", keywords[0].ExternalID)

	perf, err := Collect(f.Performance(context.Background(), account, models.LastDays(today, 1)))
	require.NoError(t, err)
	require.Len(t, perf, 2)
	assert.Equal(t, models.LevelAccount, perf[0].Owner.Level)
	assert.Equal(t, "300", perf[1].Owner.KeywordID)
}

func TestRemovedChildrenAreFetched(t *testing.T) {
	group := adstest.AdGroup("1", "10", "Paused then removed")
	group["ad_group.status"] = "REMOVED"
	kw := adstest.Keyword("1", "10", "100", "old term", "BROAD")
	kw["ad_group_criterion.status"] = "REMOVED"

	fake := adstest.New()
	fake.AddRows(account, "ad_group", group)
	fake.AddRows(account, "ad_group_criterion", kw)
	f := newFetcher(fake)

	groups, err := Collect(f.AdGroups(context.Background(), account))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, models.StatusRemoved, groups[0].Status)

	keywords, err := Collect(f.Keywords(context.Background(), account))
	require.NoError(t, err)
	require.Len(t, keywords, 1)
	assert.Equal(t, models.StatusRemoved, keywords[0].Status)

	for _, q := range fake.Queries() {
		for _, cond := range q.Where {
			assert.NotContains(t, cond, "REMOVED", "%s query filters on status", q.Resource)
		}
	}
}

func TestAdsKeepCreativeOpaque(t *testing.T) {
	fake := adstest.New()
	fake.AddRows(account, "ad_group_ad", adstest.Ad("1", "2", "3", "Buy now"))

	got, err := Collect(newFetcher(fake).Ads(context.Background(), account))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].AdGroupExternalID)
	assert.JSONEq(t, `{"responsive_search_ad.headlines":[{"text":"Buy now"}]}`, string(got[0].Creative))
}

func TestKeywordsSkipUnsupportedMatchTypes(t *testing.T) {
	fake := adstest.New()
	fake.AddRows(account, "ad_group_criterion",
		adstest.Keyword("1", "2", "10", "shoes", "PHRASE"),
		adstest.Keyword("1", "2", "11", "boots", "UNKNOWN"),
	)

	got, err := Collect(newFetcher(fake).Keywords(context.Background(), account))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, models.MatchPhrase, got[0].MatchType)
	require.NotNil(t, got[0].QualityScore)
	assert.Equal(t, 7, *got[0].QualityScore)
}

func TestMalformedRowAbandonsFetch(t *testing.T) {
	bad := adstest.AdGroup("1", "", "nameless")
	fake := adstest.New()
	fake.AddRows(account, "ad_group", adstest.AdGroup("1", "5", "ok"), bad)

	_, err := Collect(newFetcher(fake).AdGroups(context.Background(), account))

	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrMalformed)
	var se *syncerr.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, account, se.AccountID)
	assert.Equal(t, models.EntityAdGroups, se.EntityType)
}

func TestRemoteFailureIsScopedToUnit(t *testing.T) {
	fake := adstest.New()
	fake.FailSearch(account, "ad_group_criterion", adstest.ErrDenied, -1)

	_, err := Collect(newFetcher(fake).Keywords(context.Background(), account))

	assert.ErrorIs(t, err, syncerr.ErrAccessDenied)
	var se *syncerr.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.EntityKeywords, se.EntityType)
}

func TestPerformanceCoversEveryLevelInsideWindow(t *testing.T) {
	fake := adstest.New()
	adstest.Seed(fake, "9999999999", account, "Acme", today, 3)
	// a row the remote should not have returned
	fake.AddRows(account, "metrics:campaign",
		adstest.Metrics(today.AddDate(0, 0, -30), 1, 1, 1, "campaign.id", "101"))

	w := models.LastDays(today, 3)
	got, err := Collect(newFetcher(fake).Performance(context.Background(), account, w))
	require.NoError(t, err)

	assert.Len(t, got, 12)
	levels := map[models.PerformanceLevel]int{}
	for _, rec := range got {
		assert.True(t, w.Contains(rec.Date), "date %s outside window", rec.Date)
		levels[rec.Owner.Level]++
	}
	assert.Equal(t, map[models.PerformanceLevel]int{
		models.LevelAccount:  3,
		models.LevelCampaign: 3,
		models.LevelAdGroup:  3,
		models.LevelKeyword:  3,
	}, levels)

	for _, q := range fake.Queries() {
		require.NotNil(t, q.Window)
		assert.Equal(t, w, *q.Window)
	}
}

func TestKeywordPerformanceCarriesFullOwnerPath(t *testing.T) {
	fake := adstest.New()
	fake.AddRows(account, "metrics:keyword_view",
		adstest.Metrics(today, 10, 2, 300, "campaign.id", "1", "ad_group.id", "2", "ad_group_criterion.criterion_id", "3"))

	got, err := Collect(newFetcher(fake).Performance(context.Background(), account, models.LastDays(today, 1)))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, models.EntityRef{
		Level:      models.LevelKeyword,
		AccountID:  account,
		CampaignID: "1",
		AdGroupID:  "2",
		KeywordID:  "3",
	}, got[0].Owner)
	assert.Equal(t, int64(300), got[0].CostMicros)
}

func TestCanceledContextStopsFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Collect(newFetcher(adstest.New()).Campaigns(ctx, account))

	assert.ErrorIs(t, err, syncerr.ErrCanceled)
}
