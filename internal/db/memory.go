package db

import (
	"bytes"
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"

	"github.com/google/uuid"
)

// Commit is one successful batch applied by the MemoryStore, in apply order
type Commit struct {
	Seq        int
	AccountID  string
	EntityType models.EntityType
	Count      int
}

type adPath struct{ campaign, adGroup, ad string }

type perfKey struct {
	owner string
	date  string
}

// MemoryStore keeps the replica in process. It enforces the same parent
// checks and batch atomicity as PostgresStore and is used for dry runs and
// tests.
type MemoryStore struct {
	mu          sync.Mutex
	accounts    map[string]models.Account
	campaigns   map[string]map[string]models.Campaign
	adGroups    map[string]map[groupPath]models.AdGroup
	ads         map[string]map[adPath]models.Ad
	keywords    map[string]map[keywordPath]models.Keyword
	performance map[string]map[perfKey]models.PerformanceRecord
	runs        map[uuid.UUID]*models.SyncLogEntry
	locks       map[string]chan struct{}
	commits     []Commit
	changes     int
	fault       func(accountID string, et models.EntityType) error
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]models.Account),
		campaigns:   make(map[string]map[string]models.Campaign),
		adGroups:    make(map[string]map[groupPath]models.AdGroup),
		ads:         make(map[string]map[adPath]models.Ad),
		keywords:    make(map[string]map[keywordPath]models.Keyword),
		performance: make(map[string]map[perfKey]models.PerformanceRecord),
		runs:        make(map[uuid.UUID]*models.SyncLogEntry),
		locks:       make(map[string]chan struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// FailBatches installs a hook consulted before every batch is applied. A
// non-nil error aborts the batch without changing stored rows.
func (m *MemoryStore) FailBatches(fn func(accountID string, et models.EntityType) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

func (m *MemoryStore) LockAccount(ctx context.Context, accountID string) (func(), error) {
	m.mu.Lock()
	ch, ok := m.locks[accountID]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[accountID] = ch
	}
	m.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, syncerr.Wrap(syncerr.KindCanceled, "lock account", ctx.Err())
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}

func (m *MemoryStore) UpsertAccount(_ context.Context, a models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.accounts[a.ExternalID]
	next := a
	next.Active = true
	if ok {
		next.LastSyncedAt = prev.LastSyncedAt
		next.LastSyncStatus = prev.LastSyncStatus
	}
	if !ok || !accountEqual(prev, next) {
		m.changes++
	}
	m.accounts[a.ExternalID] = next
	return nil
}

func (m *MemoryStore) DeactivateMissingAccounts(_ context.Context, managerID string, keep []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, a := range m.accounts {
		if a.ManagerID != managerID || !a.Active || slices.Contains(keep, id) {
			continue
		}
		a.Active = false
		m.accounts[id] = a
		n++
	}
	m.changes += n
	return n, nil
}

func (m *MemoryStore) MarkAccountSynced(_ context.Context, accountID string, outcome models.Outcome, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return integrity("mark account synced", "account %s not found", accountID)
	}
	at = at.UTC()
	a.LastSyncedAt = &at
	a.LastSyncStatus = outcome
	m.accounts[accountID] = a
	return nil
}

func (m *MemoryStore) UpsertCampaigns(_ context.Context, accountID string, campaigns []models.Campaign) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op := entityOp(models.EntityCampaigns)
	if err := m.precheck(op, accountID, models.EntityCampaigns); err != nil {
		return 0, err
	}
	for _, c := range campaigns {
		if c.AccountID != accountID {
			return 0, integrity(op, "campaign %s belongs to account %s, not %s", c.ExternalID, c.AccountID, accountID)
		}
	}

	stored := ensure(m.campaigns, accountID)
	for _, c := range campaigns {
		put(m, stored, c.ExternalID, c, campaignEqual)
	}
	m.commit(accountID, models.EntityCampaigns, len(campaigns))
	return len(campaigns), nil
}

func (m *MemoryStore) UpsertAdGroups(_ context.Context, accountID string, groups []models.AdGroup) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op := entityOp(models.EntityAdGroups)
	if err := m.precheck(op, accountID, models.EntityAdGroups); err != nil {
		return 0, err
	}
	for _, g := range groups {
		if g.AccountID != accountID {
			return 0, integrity(op, "ad group %s belongs to account %s, not %s", g.ExternalID, g.AccountID, accountID)
		}
		if _, ok := m.campaigns[accountID][g.CampaignExternalID]; !ok {
			return 0, integrity(op, "ad group %s references missing campaign %s", g.ExternalID, g.CampaignExternalID)
		}
	}

	stored := ensure(m.adGroups, accountID)
	for _, g := range groups {
		put(m, stored, groupPath{g.CampaignExternalID, g.ExternalID}, g, adGroupEqual)
	}
	m.commit(accountID, models.EntityAdGroups, len(groups))
	return len(groups), nil
}

func (m *MemoryStore) UpsertAds(_ context.Context, accountID string, ads []models.Ad) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op := entityOp(models.EntityAds)
	if err := m.precheck(op, accountID, models.EntityAds); err != nil {
		return 0, err
	}
	for _, a := range ads {
		if a.AccountID != accountID {
			return 0, integrity(op, "ad %s belongs to account %s, not %s", a.ExternalID, a.AccountID, accountID)
		}
		if _, ok := m.adGroups[accountID][groupPath{a.CampaignExternalID, a.AdGroupExternalID}]; !ok {
			return 0, integrity(op, "ad %s references missing ad group %s/%s", a.ExternalID, a.CampaignExternalID, a.AdGroupExternalID)
		}
	}

	stored := ensure(m.ads, accountID)
	for _, a := range ads {
		put(m, stored, adPath{a.CampaignExternalID, a.AdGroupExternalID, a.ExternalID}, a, adEqual)
	}
	m.commit(accountID, models.EntityAds, len(ads))
	return len(ads), nil
}

func (m *MemoryStore) UpsertKeywords(_ context.Context, accountID string, keywords []models.Keyword) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op := entityOp(models.EntityKeywords)
	if err := m.precheck(op, accountID, models.EntityKeywords); err != nil {
		return 0, err
	}
	for _, k := range keywords {
		if k.AccountID != accountID {
			return 0, integrity(op, "keyword %s belongs to account %s, not %s", k.ExternalID, k.AccountID, accountID)
		}
		if _, ok := m.adGroups[accountID][groupPath{k.CampaignExternalID, k.AdGroupExternalID}]; !ok {
			return 0, integrity(op, "keyword %s references missing ad group %s/%s", k.ExternalID, k.CampaignExternalID, k.AdGroupExternalID)
		}
	}

	stored := ensure(m.keywords, accountID)
	for _, k := range keywords {
		put(m, stored, keywordPath{k.CampaignExternalID, k.AdGroupExternalID, k.ExternalID}, k, keywordEqual)
	}
	m.commit(accountID, models.EntityKeywords, len(keywords))
	return len(keywords), nil
}

func (m *MemoryStore) UpsertPerformance(_ context.Context, accountID string, w models.DateWindow, records []models.PerformanceRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op := entityOp(models.EntityPerformance)
	if err := m.precheck(op, accountID, models.EntityPerformance); err != nil {
		return 0, err
	}
	for _, r := range records {
		ref := r.Owner
		if ref.AccountID != accountID {
			return 0, integrity(op, "performance row %s belongs to another account", ref.Key())
		}
		if !w.Contains(r.Date) {
			return 0, integrity(op, "performance row %s dated %s outside window %s", ref.Key(), r.Date.Format(time.DateOnly), w)
		}
		var found bool
		switch ref.Level {
		case models.LevelAccount:
			found = true
		case models.LevelCampaign:
			_, found = m.campaigns[accountID][ref.CampaignID]
		case models.LevelAdGroup:
			_, found = m.adGroups[accountID][groupPath{ref.CampaignID, ref.AdGroupID}]
		case models.LevelKeyword:
			_, found = m.keywords[accountID][keywordPath{ref.CampaignID, ref.AdGroupID, ref.KeywordID}]
		default:
			return 0, integrity(op, "performance row has unknown level %q", ref.Level)
		}
		if !found {
			return 0, integrity(op, "performance row %s references missing %s", ref.Key(), ref.Level)
		}
	}

	stored := ensure(m.performance, accountID)
	for _, r := range records {
		r.Date = models.Day(r.Date)
		put(m, stored, perfKey{r.Owner.Key(), r.Date.Format(time.DateOnly)}, r, perfEqual)
	}
	m.commit(accountID, models.EntityPerformance, len(records))
	return len(records), nil
}

func (m *MemoryStore) precheck(op, accountID string, et models.EntityType) error {
	if _, ok := m.accounts[accountID]; !ok {
		return integrity(op, "account %s not found", accountID)
	}
	if m.fault != nil {
		if err := m.fault(accountID, et); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) commit(accountID string, et models.EntityType, n int) {
	m.commits = append(m.commits, Commit{Seq: len(m.commits) + 1, AccountID: accountID, EntityType: et, Count: n})
}

func ensure[K comparable, V any](outer map[string]map[K]V, accountID string) map[K]V {
	inner, ok := outer[accountID]
	if !ok {
		inner = make(map[K]V)
		outer[accountID] = inner
	}
	return inner
}

func put[K comparable, V any](m *MemoryStore, stored map[K]V, key K, v V, equal func(a, b V) bool) {
	if prev, ok := stored[key]; !ok || !equal(prev, v) {
		m.changes++
	}
	stored[key] = v
}

// Commits returns the applied batches in order
func (m *MemoryStore) Commits() []Commit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.commits)
}

// Changes counts rows inserted or whose content changed. Re-applying a
// batch that is already stored leaves it unchanged.
func (m *MemoryStore) Changes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changes
}

func (m *MemoryStore) Account(accountID string) (models.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	return a, ok
}

func (m *MemoryStore) Campaigns(accountID string) []models.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.campaigns[accountID], func(a, b models.Campaign) int {
		return cmp.Compare(a.ExternalID, b.ExternalID)
	})
}

func (m *MemoryStore) AdGroups(accountID string) []models.AdGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.adGroups[accountID], func(a, b models.AdGroup) int {
		return cmp.Or(cmp.Compare(a.CampaignExternalID, b.CampaignExternalID), cmp.Compare(a.ExternalID, b.ExternalID))
	})
}

func (m *MemoryStore) Ads(accountID string) []models.Ad {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.ads[accountID], func(a, b models.Ad) int {
		return cmp.Or(cmp.Compare(a.AdGroupExternalID, b.AdGroupExternalID), cmp.Compare(a.ExternalID, b.ExternalID))
	})
}

func (m *MemoryStore) Keywords(accountID string) []models.Keyword {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.keywords[accountID], func(a, b models.Keyword) int {
		return cmp.Or(cmp.Compare(a.AdGroupExternalID, b.AdGroupExternalID), cmp.Compare(a.ExternalID, b.ExternalID))
	})
}

func (m *MemoryStore) Performance(accountID string) []models.PerformanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.performance[accountID], func(a, b models.PerformanceRecord) int {
		return cmp.Or(cmp.Compare(a.Owner.Key(), b.Owner.Key()), a.Date.Compare(b.Date))
	})
}

func sortedValues[K comparable, V any](src map[K]V, order func(a, b V) int) []V {
	return slices.SortedFunc(maps.Values(src), order)
}

func accountEqual(a, b models.Account) bool {
	return a.ExternalID == b.ExternalID && a.ManagerID == b.ManagerID && a.Name == b.Name &&
		a.CurrencyCode == b.CurrencyCode && a.TimeZone == b.TimeZone && a.Active == b.Active
}

func campaignEqual(a, b models.Campaign) bool {
	return a.AccountID == b.AccountID && a.ExternalID == b.ExternalID && a.Name == b.Name &&
		a.Status == b.Status && a.ChannelType == b.ChannelType && a.BudgetMicros == b.BudgetMicros &&
		a.BudgetType == b.BudgetType && dateEqual(a.StartDate, b.StartDate) && dateEqual(a.EndDate, b.EndDate)
}

func adGroupEqual(a, b models.AdGroup) bool { return a == b }

func adEqual(a, b models.Ad) bool {
	return a.AccountID == b.AccountID && a.CampaignExternalID == b.CampaignExternalID &&
		a.AdGroupExternalID == b.AdGroupExternalID && a.ExternalID == b.ExternalID &&
		a.Status == b.Status && a.Type == b.Type && bytes.Equal(a.Creative, b.Creative)
}

func keywordEqual(a, b models.Keyword) bool {
	qs := (a.QualityScore == nil) == (b.QualityScore == nil) &&
		(a.QualityScore == nil || *a.QualityScore == *b.QualityScore)
	return qs && a.AccountID == b.AccountID && a.CampaignExternalID == b.CampaignExternalID &&
		a.AdGroupExternalID == b.AdGroupExternalID && a.ExternalID == b.ExternalID &&
		a.Text == b.Text && a.MatchType == b.MatchType && a.Status == b.Status
}

func perfEqual(a, b models.PerformanceRecord) bool {
	return a.Owner == b.Owner && a.Date.Equal(b.Date) && a.Impressions == b.Impressions &&
		a.Clicks == b.Clicks && a.CostMicros == b.CostMicros &&
		a.Conversions == b.Conversions && a.ConversionValue == b.ConversionValue
}

func dateEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
