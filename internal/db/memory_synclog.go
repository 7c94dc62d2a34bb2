package db

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"

	"github.com/google/uuid"
)

func (m *MemoryStore) Begin(_ context.Context, scope models.SyncScope) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runID := uuid.New()
	m.runs[runID] = &models.SyncLogEntry{RunID: runID, Scope: scope, StartedAt: m.now()}
	return runID, nil
}

func (m *MemoryStore) RecordAccountResult(_ context.Context, runID uuid.UUID, res models.AccountResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.openRun(runID)
	if err != nil {
		return err
	}
	if res.RecordedAt.IsZero() {
		res.RecordedAt = m.now()
	}
	res = cloneResult(res)
	if i := slices.IndexFunc(entry.Accounts, func(r models.AccountResult) bool { return r.AccountID == res.AccountID }); i >= 0 {
		entry.Accounts[i] = res
		return nil
	}
	entry.Accounts = append(entry.Accounts, res)
	return nil
}

func (m *MemoryStore) Finalize(_ context.Context, runID uuid.UUID, outcome models.Outcome) (models.SyncLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.openRun(runID)
	if err != nil {
		return models.SyncLogEntry{}, err
	}
	now := m.now()
	entry.FinishedAt = &now
	entry.Outcome = outcome
	return cloneEntry(entry), nil
}

func (m *MemoryStore) Entry(_ context.Context, runID uuid.UUID) (models.SyncLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.runs[runID]
	if !ok {
		return models.SyncLogEntry{}, syncerr.Wrap(syncerr.KindIntegrity, "load sync run", ErrRunNotFound)
	}
	return cloneEntry(entry), nil
}

func (m *MemoryStore) LatestAccountResult(_ context.Context, accountID string) (models.AccountResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.AccountResult
	for _, entry := range m.runs {
		for i := range entry.Accounts {
			r := &entry.Accounts[i]
			if r.AccountID == accountID && (latest == nil || r.RecordedAt.After(latest.RecordedAt)) {
				latest = r
			}
		}
	}
	if latest == nil {
		return models.AccountResult{}, ErrNoResult
	}
	return cloneResult(*latest), nil
}

func (m *MemoryStore) openRun(runID uuid.UUID) (*models.SyncLogEntry, error) {
	entry, ok := m.runs[runID]
	if !ok {
		return nil, syncerr.Wrap(syncerr.KindIntegrity, "sync run "+runID.String(), ErrRunNotFound)
	}
	if entry.Finalized() {
		return nil, syncerr.Wrap(syncerr.KindIntegrity, "sync run "+runID.String(), ErrRunFinalized)
	}
	return entry, nil
}

func cloneEntry(e *models.SyncLogEntry) models.SyncLogEntry {
	out := *e
	out.Accounts = make([]models.AccountResult, 0, len(e.Accounts))
	for _, r := range e.Accounts {
		out.Accounts = append(out.Accounts, cloneResult(r))
	}
	slices.SortFunc(out.Accounts, func(a, b models.AccountResult) int {
		return strings.Compare(a.AccountID, b.AccountID)
	})
	return out
}

func cloneResult(r models.AccountResult) models.AccountResult {
	r.EntitiesSynced = maps.Clone(r.EntitiesSynced)
	r.Errors = slices.Clone(r.Errors)
	return r
}
