package models

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// EntityType names one class of synchronized entity
type EntityType string

const (
	EntityAccounts    EntityType = "accounts"
	EntityCampaigns   EntityType = "campaigns"
	EntityAdGroups    EntityType = "ad_groups"
	EntityAds         EntityType = "ads"
	EntityKeywords    EntityType = "keywords"
	EntityPerformance EntityType = "performance"
)

// AllEntityTypes lists the fetchable entity types in dependency order
var AllEntityTypes = []EntityType{
	EntityCampaigns,
	EntityAdGroups,
	EntityAds,
	EntityKeywords,
	EntityPerformance,
}

// EntityTiers groups entity types by dependency tier. A tier may only start
// after every earlier tier has committed for the same account.
var EntityTiers = [][]EntityType{
	{EntityCampaigns},
	{EntityAdGroups},
	{EntityAds, EntityKeywords},
	{EntityPerformance},
}

// EntityDependencies lists, for each type, the types whose rows it references
var EntityDependencies = map[EntityType][]EntityType{
	EntityCampaigns:   nil,
	EntityAdGroups:    {EntityCampaigns},
	EntityAds:         {EntityAdGroups},
	EntityKeywords:    {EntityAdGroups},
	EntityPerformance: {EntityCampaigns, EntityAdGroups, EntityKeywords},
}

// ParseEntityTypes validates names and returns them in dependency order.
// An empty input selects every type.
func ParseEntityTypes(names []string) ([]EntityType, error) {
	if len(names) == 0 {
		return slices.Clone(AllEntityTypes), nil
	}
	seen := make(map[EntityType]bool, len(names))
	for _, n := range names {
		et := EntityType(normalizeEnum(n))
		if !slices.Contains(AllEntityTypes, et) {
			return nil, fmt.Errorf("unknown entity type %q", n)
		}
		seen[et] = true
	}
	out := make([]EntityType, 0, len(seen))
	for _, et := range AllEntityTypes {
		if seen[et] {
			out = append(out, et)
		}
	}
	return out, nil
}

// Mode selects how a run is driven
type Mode string

const (
	ModeFull          Mode = "full"
	ModeIncremental   Mode = "incremental"
	ModeSingleAccount Mode = "single_account"
)

// Outcome is the result of an account or of a whole run
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

const dateLayout = "2006-01-02"

// DateWindow is an inclusive range of calendar dates (UTC midnight)
type DateWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Day truncates t to its UTC calendar date
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LastDays returns the window of n days ending on today's date
func LastDays(now time.Time, n int) DateWindow {
	if n < 1 {
		n = 1
	}
	end := Day(now)
	return DateWindow{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

// Yesterday returns the one-day window used by incremental runs
func Yesterday(now time.Time) DateWindow {
	d := Day(now).AddDate(0, 0, -1)
	return DateWindow{Start: d, End: d}
}

// Contains reports whether the calendar date of t lies inside the window
func (w DateWindow) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(w.Start) && !d.After(w.End)
}

func (w DateWindow) String() string {
	return w.Start.Format(dateLayout) + ".." + w.End.Format(dateLayout)
}

// SyncRequest is the trigger message
type SyncRequest struct {
	CorrelationID    string   `json:"correlation_id,omitempty"`
	ManagerAccountID string   `json:"manager_account_id"`
	Mode             Mode     `json:"mode"`
	ClientAccountID  string   `json:"client_account_id,omitempty"`
	DaysBack         int      `json:"days_back,omitempty"`
	EntityTypes      []string `json:"entity_types,omitempty"`
}

// SyncScope is what a run was asked to do, as recorded in the sync log
type SyncScope struct {
	ManagerAccountID string       `json:"manager_account_id"`
	Mode             Mode         `json:"mode"`
	AccountIDs       []string     `json:"account_ids,omitempty"`
	EntityTypes      []EntityType `json:"entity_types"`
	Window           DateWindow   `json:"window"`
}

// UnitError is one (entity type, message) pair recorded for an account
type UnitError struct {
	EntityType EntityType `json:"entity_type"`
	Kind       string     `json:"kind"`
	Message    string     `json:"message"`
}

// AccountResult is the per-account section of a sync log entry and of the summary
type AccountResult struct {
	AccountID      string             `json:"account_id"`
	AccountName    string             `json:"account_name"`
	Outcome        Outcome            `json:"outcome"`
	EntitiesSynced map[EntityType]int `json:"entities_synced"`
	Errors         []UnitError        `json:"errors"`
	RecordedAt     time.Time          `json:"recorded_at"`
}

// SyncLogEntry is one run as stored by the sync log
type SyncLogEntry struct {
	RunID      uuid.UUID       `json:"run_id"`
	Scope      SyncScope       `json:"scope"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Outcome    Outcome         `json:"outcome,omitempty"`
	Accounts   []AccountResult `json:"accounts"`
}

// Finalized reports whether the entry has been sealed
func (e SyncLogEntry) Finalized() bool {
	return e.FinishedAt != nil
}

// SyncSummary is returned to the trigger caller
type SyncSummary struct {
	RunID         uuid.UUID       `json:"run_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Mode          Mode            `json:"mode"`
	Outcome       Outcome         `json:"outcome"`
	Window        DateWindow      `json:"window"`
	PerAccount    []AccountResult `json:"per_account"`
}
