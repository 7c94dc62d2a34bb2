package fetcher

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Guizzs26/go-ads-sync/internal/ads"
	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/pkg/encoding"
)

// errSkip marks a well-formed row the typed record cannot represent
var errSkip = errors.New("row skipped")

func toCampaign(accountID string, r ads.Row) (models.Campaign, error) {
	id, err := r.RequireText(fCampaignID)
	if err != nil {
		return models.Campaign{}, err
	}
	start, err := r.Date(fCampaignStart)
	if err != nil {
		return models.Campaign{}, err
	}
	end, err := r.Date(fCampaignEnd)
	if err != nil {
		return models.Campaign{}, err
	}
	budget, err := r.Int64(fBudgetMicros)
	if err != nil {
		return models.Campaign{}, err
	}
	return models.Campaign{
		AccountID:    accountID,
		ExternalID:   id,
		Name:         encoding.NormalizeName(r.Text(fCampaignName)),
		Status:       models.ParseStatus(r.Text(fCampaignStatus)),
		ChannelType:  r.Text(fCampaignChannel),
		StartDate:    start,
		EndDate:      end,
		BudgetMicros: budget,
		BudgetType:   r.Text(fBudgetPeriod),
	}, nil
}

func toAdGroup(accountID string, r ads.Row) (models.AdGroup, error) {
	campaignID, err := r.RequireText(fCampaignID)
	if err != nil {
		return models.AdGroup{}, err
	}
	id, err := r.RequireText(fAdGroupID)
	if err != nil {
		return models.AdGroup{}, err
	}
	return models.AdGroup{
		AccountID:          accountID,
		CampaignExternalID: campaignID,
		ExternalID:         id,
		Name:               encoding.NormalizeName(r.Text(fAdGroupName)),
		Status:             models.ParseStatus(r.Text(fAdGroupStatus)),
		Type:               r.Text(fAdGroupType),
	}, nil
}

func toAd(accountID string, r ads.Row) (models.Ad, error) {
	campaignID, err := r.RequireText(fCampaignID)
	if err != nil {
		return models.Ad{}, err
	}
	adGroupID, err := r.RequireText(fAdGroupID)
	if err != nil {
		return models.Ad{}, err
	}
	id, err := r.RequireText(fAdID)
	if err != nil {
		return models.Ad{}, err
	}
	creative, err := json.Marshal(r.Subtree("ad_group_ad.ad", "id", "type"))
	if err != nil {
		return models.Ad{}, fmt.Errorf("encode creative: %w", err)
	}
	return models.Ad{
		AccountID:          accountID,
		CampaignExternalID: campaignID,
		AdGroupExternalID:  adGroupID,
		ExternalID:         id,
		Status:             models.ParseStatus(r.Text(fAdStatus)),
		Type:               r.Text(fAdType),
		Creative:           creative,
	}, nil
}

func toKeyword(accountID string, r ads.Row) (models.Keyword, error) {
	campaignID, err := r.RequireText(fCampaignID)
	if err != nil {
		return models.Keyword{}, err
	}
	adGroupID, err := r.RequireText(fAdGroupID)
	if err != nil {
		return models.Keyword{}, err
	}
	id, err := r.RequireText(fCriterionID)
	if err != nil {
		return models.Keyword{}, err
	}
	match, ok := models.ParseMatchType(r.Text(fKeywordMatchType))
	if !ok {
		return models.Keyword{}, fmt.Errorf("%w: keyword %s has match type %q", errSkip, id, r.Text(fKeywordMatchType))
	}
	qs, err := r.OptionalInt(fQualityScore)
	if err != nil {
		return models.Keyword{}, err
	}
	return models.Keyword{
		AccountID:          accountID,
		CampaignExternalID: campaignID,
		AdGroupExternalID:  adGroupID,
		ExternalID:         id,
		Text:               encoding.NormalizeName(r.Text(fKeywordText)),
		MatchType:          match,
		Status:             models.ParseStatus(r.Text(fCriterionStatus)),
		QualityScore:       qs,
	}, nil
}

func toPerformance(accountID string, level models.PerformanceLevel, r ads.Row) (models.PerformanceRecord, error) {
	ref := models.EntityRef{Level: level, AccountID: accountID}
	var err error
	switch level {
	case models.LevelKeyword:
		if ref.KeywordID, err = r.RequireText(fCriterionID); err != nil {
			return models.PerformanceRecord{}, err
		}
		fallthrough
	case models.LevelAdGroup:
		if ref.AdGroupID, err = r.RequireText(fAdGroupID); err != nil {
			return models.PerformanceRecord{}, err
		}
		fallthrough
	case models.LevelCampaign:
		if ref.CampaignID, err = r.RequireText(fCampaignID); err != nil {
			return models.PerformanceRecord{}, err
		}
	}

	date, err := r.Date(fDate)
	if err != nil {
		return models.PerformanceRecord{}, err
	}
	if date == nil {
		return models.PerformanceRecord{}, fmt.Errorf("field %s missing", fDate)
	}

	rec := models.PerformanceRecord{Owner: ref, Date: *date}
	if rec.Impressions, err = r.Int64(fImpressions); err != nil {
		return rec, err
	}
	if rec.Clicks, err = r.Int64(fClicks); err != nil {
		return rec, err
	}
	if rec.CostMicros, err = r.Int64(fCostMicros); err != nil {
		return rec, err
	}
	if rec.Conversions, err = r.Float64(fConversions); err != nil {
		return rec, err
	}
	if rec.ConversionValue, err = r.Float64(fConversionsValue); err != nil {
		return rec, err
	}
	return rec, nil
}
