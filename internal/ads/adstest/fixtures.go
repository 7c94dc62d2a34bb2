package adstest

import (
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/ads"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"
)

// Ready-made injected failures
var (
	ErrQuota   = syncerr.New(syncerr.KindTransient, "search", "RESOURCE_EXHAUSTED: quota exhausted")
	ErrDenied  = syncerr.New(syncerr.KindAccessDenied, "search", "PERMISSION_DENIED: user lacks access")
	ErrGarbled = syncerr.New(syncerr.KindMalformed, "search", "decode response: unexpected EOF")
)

func Campaign(id, name, status string) ads.Row {
	return ads.Row{
		"campaign.id":                       id,
		"campaign.name":                     name,
		"campaign.status":                   status,
		"campaign.advertising_channel_type": "SEARCH",
		"campaign.start_date":               "2024-01-01",
		"campaign_budget.amount_micros":     "5000000",
		"campaign_budget.period":            "DAILY",
	}
}

func AdGroup(campaignID, id, name string) ads.Row {
	return ads.Row{
		"campaign.id":     campaignID,
		"ad_group.id":     id,
		"ad_group.name":   name,
		"ad_group.status": "ENABLED",
		"ad_group.type":   "SEARCH_STANDARD",
	}
}

func Ad(campaignID, adGroupID, id string, headlines ...string) ads.Row {
	hl := make([]any, 0, len(headlines))
	for _, h := range headlines {
		hl = append(hl, map[string]any{"text": h})
	}
	return ads.Row{
		"campaign.id":         campaignID,
		"ad_group.id":         adGroupID,
		"ad_group_ad.ad.id":   id,
		"ad_group_ad.ad.type": "RESPONSIVE_SEARCH_AD",
		"ad_group_ad.status":  "ENABLED",
		"ad_group_ad.ad.responsive_search_ad.headlines": hl,
	}
}

func Keyword(campaignID, adGroupID, id, text, matchType string) ads.Row {
	return ads.Row{
		"campaign.id":                                   campaignID,
		"ad_group.id":                                   adGroupID,
		"ad_group_criterion.criterion_id":               id,
		"ad_group_criterion.keyword.text":               text,
		"ad_group_criterion.keyword.match_type":         matchType,
		"ad_group_criterion.status":                     "ENABLED",
		"ad_group_criterion.quality_info.quality_score": "7",
	}
}

// InCampaign sets the campaign status and end date that child and metrics
// rows carry. A zero end leaves the end date unset.
func InCampaign(r ads.Row, status string, end time.Time) ads.Row {
	r["campaign.status"] = status
	if !end.IsZero() {
		r["campaign.end_date"] = end.Format("2006-01-02")
	}
	return r
}

// Metrics builds a performance row for date carrying ids (pairs of field path and value)
func Metrics(date time.Time, impressions, clicks, costMicros int64, ids ...string) ads.Row {
	r := ads.Row{
		"segments.date":             date.Format("2006-01-02"),
		"metrics.impressions":       impressions,
		"metrics.clicks":            clicks,
		"metrics.cost_micros":       costMicros,
		"metrics.conversions":       1.5,
		"metrics.conversions_value": 42.0,
	}
	for i := 0; i+1 < len(ids); i += 2 {
		r[ids[i]] = ids[i+1]
	}
	return r
}

// Seed adds a small but complete account to c: two campaigns, one ad group
// each, an ad and a keyword per ad group, and days of performance rows ending
// on end at every level
func Seed(c *Client, managerID, accountID, name string, end time.Time, days int) {
	c.AddAccount(managerID, ads.AccountSummary{
		ID:           accountID,
		Name:         name,
		CurrencyCode: "USD",
		TimeZone:     "America/New_York",
	})
	c.AddRows(accountID, "campaign",
		Campaign("101", "Brand", "ENABLED"),
		Campaign("102", "Generic", "PAUSED"),
	)
	c.AddRows(accountID, "ad_group",
		AdGroup("101", "201", "Brand Exact"),
		AdGroup("102", "202", "Generic Broad"),
	)
	c.AddRows(accountID, "ad_group_ad",
		Ad("101", "201", "301", "Buy Brand", "Official Site"),
		Ad("102", "202", "302", "Cheap Things"),
	)
	c.AddRows(accountID, "ad_group_criterion",
		Keyword("101", "201", "401", "brand shoes", "EXACT"),
		Keyword("102", "202", "402", "shoes", "BROAD"),
	)
	for i := range days {
		d := end.AddDate(0, 0, -i)
		c.AddRows(accountID, "metrics:customer", Metrics(d, 1000, 50, 2500000))
		c.AddRows(accountID, "metrics:campaign",
			Metrics(d, 600, 30, 1500000, "campaign.id", "101"),
		)
		c.AddRows(accountID, "metrics:ad_group",
			Metrics(d, 600, 30, 1500000, "campaign.id", "101", "ad_group.id", "201"),
		)
		c.AddRows(accountID, "metrics:keyword_view",
			Metrics(d, 400, 20, 1000000, "campaign.id", "101", "ad_group.id", "201", "ad_group_criterion.criterion_id", "401"),
		)
	}
}
