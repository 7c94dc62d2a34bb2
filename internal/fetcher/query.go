package fetcher

import (
	"github.com/Guizzs26/go-ads-sync/internal/ads"
	"github.com/Guizzs26/go-ads-sync/internal/models"
)

// Field paths read back by normalize.go
const (
	fCampaignID       = "campaign.id"
	fCampaignName     = "campaign.name"
	fCampaignStatus   = "campaign.status"
	fCampaignChannel  = "campaign.advertising_channel_type"
	fCampaignStart    = "campaign.start_date"
	fCampaignEnd      = "campaign.end_date"
	fBudgetMicros     = "campaign_budget.amount_micros"
	fBudgetPeriod     = "campaign_budget.period"
	fAdGroupID        = "ad_group.id"
	fAdGroupName      = "ad_group.name"
	fAdGroupStatus    = "ad_group.status"
	fAdGroupType      = "ad_group.type"
	fAdID             = "ad_group_ad.ad.id"
	fAdType           = "ad_group_ad.ad.type"
	fAdStatus         = "ad_group_ad.status"
	fCriterionID      = "ad_group_criterion.criterion_id"
	fKeywordText      = "ad_group_criterion.keyword.text"
	fKeywordMatchType = "ad_group_criterion.keyword.match_type"
	fCriterionStatus  = "ad_group_criterion.status"
	fQualityScore     = "ad_group_criterion.quality_info.quality_score"
	fDate             = "segments.date"
	fImpressions      = "metrics.impressions"
	fClicks           = "metrics.clicks"
	fCostMicros       = "metrics.cost_micros"
	fConversions      = "metrics.conversions"
	fConversionsValue = "metrics.conversions_value"
)

var metricFields = []string{fDate, fImpressions, fClicks, fCostMicros, fConversions, fConversionsValue}

func campaignQuery() ads.Query {
	return ads.Query{
		Resource: "campaign",
		Fields: []string{
			fCampaignID, fCampaignName, fCampaignStatus, fCampaignChannel,
			fCampaignStart, fCampaignEnd, fBudgetMicros, fBudgetPeriod,
		},
		OrderBy: fCampaignID,
	}
}

func adGroupQuery() ads.Query {
	return ads.Query{
		Resource: "ad_group",
		Fields: []string{
			fCampaignID, fCampaignStatus, fCampaignEnd,
			fAdGroupID, fAdGroupName, fAdGroupStatus, fAdGroupType,
		},
		OrderBy: fAdGroupID,
	}
}

func adQuery() ads.Query {
	return ads.Query{
		Resource: "ad_group_ad",
		Fields: []string{
			fCampaignID, fCampaignStatus, fCampaignEnd,
			fAdGroupID, fAdID, fAdType, fAdStatus,
			"ad_group_ad.ad.final_urls",
			"ad_group_ad.ad.responsive_search_ad.headlines",
			"ad_group_ad.ad.responsive_search_ad.descriptions",
			"ad_group_ad.ad.expanded_text_ad.headline_part1",
			"ad_group_ad.ad.expanded_text_ad.headline_part2",
			"ad_group_ad.ad.expanded_text_ad.description",
		},
		OrderBy: fAdID,
	}
}

func keywordQuery() ads.Query {
	return ads.Query{
		Resource: "ad_group_criterion",
		Fields: []string{
			fCampaignID, fCampaignStatus, fCampaignEnd,
			fAdGroupID, fCriterionID, fKeywordText,
			fKeywordMatchType, fCriterionStatus, fQualityScore,
		},
		Where:   []string{"ad_group_criterion.type = 'KEYWORD'"},
		OrderBy: fCriterionID,
	}
}

// performanceQueries returns one query per performance level, each filtered
// to the inclusive window. Below account level the campaign status and end
// date are read so the retention rule drops the same owners it drops from
// the structural fetches.
func performanceQueries(w models.DateWindow) map[models.PerformanceLevel]ads.Query {
	with := func(ids ...string) []string {
		return append(append([]string{}, ids...), metricFields...)
	}
	return map[models.PerformanceLevel]ads.Query{
		models.LevelAccount: {
			Resource: "customer",
			Fields:   with(),
			Window:   &w,
			OrderBy:  fDate,
		},
		models.LevelCampaign: {
			Resource: "campaign",
			Fields:   with(fCampaignID, fCampaignStatus, fCampaignEnd),
			Window:   &w,
			OrderBy:  fDate,
		},
		models.LevelAdGroup: {
			Resource: "ad_group",
			Fields:   with(fCampaignID, fCampaignStatus, fCampaignEnd, fAdGroupID),
			Window:   &w,
			OrderBy:  fDate,
		},
		models.LevelKeyword: {
			Resource: "keyword_view",
			Fields:   with(fCampaignID, fCampaignStatus, fCampaignEnd, fAdGroupID, fCriterionID),
			Window:   &w,
			OrderBy:  fDate,
		},
	}
}

// performanceLevels fixes the order in which levels are fetched
var performanceLevels = []models.PerformanceLevel{
	models.LevelAccount,
	models.LevelCampaign,
	models.LevelAdGroup,
	models.LevelKeyword,
}
