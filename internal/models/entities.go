package models

import (
	"strings"
	"time"
)

// Status is the serving status shared by campaigns, ad groups, ads and keywords
type Status string

const (
	StatusEnabled Status = "enabled"
	StatusPaused  Status = "paused"
	StatusRemoved Status = "removed"
	StatusUnknown Status = "unknown"
)

// ParseStatus maps the remote enum (ENABLED, PAUSED, REMOVED, ...) to a Status
func ParseStatus(raw string) Status {
	switch Status(normalizeEnum(raw)) {
	case StatusEnabled:
		return StatusEnabled
	case StatusPaused:
		return StatusPaused
	case StatusRemoved:
		return StatusRemoved
	default:
		return StatusUnknown
	}
}

// MatchType is the keyword match type
type MatchType string

const (
	MatchExact  MatchType = "exact"
	MatchPhrase MatchType = "phrase"
	MatchBroad  MatchType = "broad"
)

// ParseMatchType returns false for values outside exact/phrase/broad
func ParseMatchType(raw string) (MatchType, bool) {
	switch m := MatchType(normalizeEnum(raw)); m {
	case MatchExact, MatchPhrase, MatchBroad:
		return m, true
	default:
		return "", false
	}
}

// Account is a leaf client account reachable from a manager
type Account struct {
	ExternalID     string     `json:"external_id"`
	ManagerID      string     `json:"manager_id"`
	Name           string     `json:"name"`
	CurrencyCode   string     `json:"currency_code"`
	TimeZone       string     `json:"time_zone"`
	Active         bool       `json:"active"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	LastSyncStatus Outcome    `json:"last_sync_status,omitempty"`
}

type Campaign struct {
	AccountID    string     `json:"account_id"`
	ExternalID   string     `json:"external_id"`
	Name         string     `json:"name"`
	Status       Status     `json:"status"`
	ChannelType  string     `json:"channel_type"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	BudgetMicros int64      `json:"budget_micros"`
	BudgetType   string     `json:"budget_type"`
}

type AdGroup struct {
	AccountID          string `json:"account_id"`
	CampaignExternalID string `json:"campaign_external_id"`
	ExternalID         string `json:"external_id"`
	Name               string `json:"name"`
	Status             Status `json:"status"`
	Type               string `json:"type"`
}

// Ad keeps the creative payload as raw JSON; it is never interpreted here
type Ad struct {
	AccountID          string `json:"account_id"`
	CampaignExternalID string `json:"campaign_external_id"`
	AdGroupExternalID  string `json:"ad_group_external_id"`
	ExternalID         string `json:"external_id"`
	Status             Status `json:"status"`
	Type               string `json:"type"`
	Creative           []byte `json:"creative"`
}

type Keyword struct {
	AccountID          string    `json:"account_id"`
	CampaignExternalID string    `json:"campaign_external_id"`
	AdGroupExternalID  string    `json:"ad_group_external_id"`
	ExternalID         string    `json:"external_id"`
	Text               string    `json:"text"`
	MatchType          MatchType `json:"match_type"`
	Status             Status    `json:"status"`
	QualityScore       *int      `json:"quality_score,omitempty"`
}

// PerformanceLevel identifies which entity a PerformanceRecord belongs to
type PerformanceLevel string

const (
	LevelAccount  PerformanceLevel = "account"
	LevelCampaign PerformanceLevel = "campaign"
	LevelAdGroup  PerformanceLevel = "ad_group"
	LevelKeyword  PerformanceLevel = "keyword"
)

// EntityRef points at the owner of a PerformanceRecord. Only the ids needed
// to resolve the owner at Level are set; keyword ids are unique within their
// ad group so a keyword ref carries the ad group id too.
type EntityRef struct {
	Level      PerformanceLevel `json:"level"`
	AccountID  string           `json:"account_id"`
	CampaignID string           `json:"campaign_id,omitempty"`
	AdGroupID  string           `json:"ad_group_id,omitempty"`
	KeywordID  string           `json:"keyword_id,omitempty"`
}

// Key is stable for a given owner and is used as the (entity ref) half of the
// performance uniqueness key
func (r EntityRef) Key() string {
	switch r.Level {
	case LevelCampaign:
		return string(r.Level) + ":" + r.AccountID + "/" + r.CampaignID
	case LevelAdGroup:
		return string(r.Level) + ":" + r.AccountID + "/" + r.CampaignID + "/" + r.AdGroupID
	case LevelKeyword:
		return string(r.Level) + ":" + r.AccountID + "/" + r.CampaignID + "/" + r.AdGroupID + "/" + r.KeywordID
	default:
		return string(LevelAccount) + ":" + r.AccountID
	}
}

// PerformanceRecord holds absolute daily totals. A later sync for the same
// (Owner, Date) overwrites the row.
type PerformanceRecord struct {
	Owner           EntityRef `json:"owner"`
	Date            time.Time `json:"date"`
	Impressions     int64     `json:"impressions"`
	Clicks          int64     `json:"clicks"`
	CostMicros      int64     `json:"cost_micros"`
	Conversions     float64   `json:"conversions"`
	ConversionValue float64   `json:"conversion_value"`
}

func normalizeEnum(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
