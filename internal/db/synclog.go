package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrRunNotFound  = errors.New("sync run not found")
	ErrRunFinalized = errors.New("sync run is finalized")
	ErrNoResult     = errors.New("no sync result recorded for account")
)

// Begin opens a sync log entry and returns its run id
func (s *PostgresStore) Begin(ctx context.Context, scope models.SyncScope) (uuid.UUID, error) {
	runID := uuid.New()
	raw, err := json.Marshal(scope)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode scope: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sync_runs (id, manager_account_id, mode, scope, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		runID, scope.ManagerAccountID, string(scope.Mode), raw, time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, classify("begin sync run", err)
	}
	return runID, nil
}

// RecordAccountResult stores or replaces the result of one account in an
// open run
func (s *PostgresStore) RecordAccountResult(ctx context.Context, runID uuid.UUID, res models.AccountResult) error {
	synced, err := json.Marshal(res.EntitiesSynced)
	if err != nil {
		return fmt.Errorf("failed to encode entity counts: %w", err)
	}
	errs := res.Errors
	if errs == nil {
		errs = []models.UnitError{}
	}
	rawErrs, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to encode unit errors: %w", err)
	}
	if res.RecordedAt.IsZero() {
		res.RecordedAt = time.Now().UTC()
	}

	return s.inTx(ctx, "record account result", func(tx pgx.Tx) error {
		if err := openRun(ctx, tx, runID, "FOR SHARE"); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO sync_account_results
				(run_id, account_id, account_name, outcome, entities_synced, errors, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (run_id, account_id) DO UPDATE SET
				account_name = EXCLUDED.account_name,
				outcome = EXCLUDED.outcome,
				entities_synced = EXCLUDED.entities_synced,
				errors = EXCLUDED.errors,
				recorded_at = EXCLUDED.recorded_at`,
			runID, res.AccountID, res.AccountName, string(res.Outcome), synced, rawErrs, res.RecordedAt,
		)
		return err
	})
}

// Finalize seals the run with its aggregate outcome. A finalized run cannot
// be changed again.
func (s *PostgresStore) Finalize(ctx context.Context, runID uuid.UUID, outcome models.Outcome) (models.SyncLogEntry, error) {
	err := s.inTx(ctx, "finalize sync run", func(tx pgx.Tx) error {
		if err := openRun(ctx, tx, runID, "FOR UPDATE"); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE sync_runs SET finished_at = $2, outcome = $3 WHERE id = $1`,
			runID, time.Now().UTC(), string(outcome),
		)
		return err
	})
	if err != nil {
		return models.SyncLogEntry{}, err
	}
	return s.Entry(ctx, runID)
}

// Entry loads a run with its account results ordered by account id
func (s *PostgresStore) Entry(ctx context.Context, runID uuid.UUID) (models.SyncLogEntry, error) {
	entry := models.SyncLogEntry{RunID: runID}
	var rawScope []byte
	var outcome *string
	err := s.pool.QueryRow(ctx,
		`SELECT scope, started_at, finished_at, outcome FROM sync_runs WHERE id = $1`, runID,
	).Scan(&rawScope, &entry.StartedAt, &entry.FinishedAt, &outcome)
	if errors.Is(err, pgx.ErrNoRows) {
		return entry, syncerr.Wrap(syncerr.KindIntegrity, "load sync run", ErrRunNotFound)
	}
	if err != nil {
		return entry, classify("load sync run", err)
	}
	if err := json.Unmarshal(rawScope, &entry.Scope); err != nil {
		return entry, fmt.Errorf("failed to decode scope of run %s: %w", runID, err)
	}
	if outcome != nil {
		entry.Outcome = models.Outcome(*outcome)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT account_id, account_name, outcome, entities_synced, errors, recorded_at
		FROM sync_account_results WHERE run_id = $1 ORDER BY account_id`, runID)
	if err != nil {
		return entry, classify("load account results", err)
	}
	entry.Accounts, err = pgx.CollectRows(rows, scanAccountResult)
	if err != nil {
		return entry, classify("load account results", err)
	}
	return entry, nil
}

// LatestAccountResult returns the most recently recorded result for the
// account across all runs
func (s *PostgresStore) LatestAccountResult(ctx context.Context, accountID string) (models.AccountResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT account_id, account_name, outcome, entities_synced, errors, recorded_at
		FROM sync_account_results WHERE account_id = $1
		ORDER BY recorded_at DESC LIMIT 1`, accountID)
	if err != nil {
		return models.AccountResult{}, classify("latest account result", err)
	}
	res, err := pgx.CollectOneRow(rows, scanAccountResult)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AccountResult{}, ErrNoResult
	}
	if err != nil {
		return models.AccountResult{}, classify("latest account result", err)
	}
	return res, nil
}

// openRun locks the run row and fails unless the run is still open
func openRun(ctx context.Context, tx pgx.Tx, runID uuid.UUID, lock string) error {
	var finished *time.Time
	err := tx.QueryRow(ctx, "SELECT finished_at FROM sync_runs WHERE id = $1 "+lock, runID).Scan(&finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return syncerr.Wrap(syncerr.KindIntegrity, "sync run "+runID.String(), ErrRunNotFound)
	}
	if err != nil {
		return err
	}
	if finished != nil {
		return syncerr.Wrap(syncerr.KindIntegrity, "sync run "+runID.String(), ErrRunFinalized)
	}
	return nil
}

func scanAccountResult(row pgx.CollectableRow) (models.AccountResult, error) {
	var res models.AccountResult
	var outcome string
	var synced, errs []byte
	if err := row.Scan(&res.AccountID, &res.AccountName, &outcome, &synced, &errs, &res.RecordedAt); err != nil {
		return res, err
	}
	res.Outcome = models.Outcome(outcome)
	if err := json.Unmarshal(synced, &res.EntitiesSynced); err != nil {
		return res, fmt.Errorf("failed to decode entity counts: %w", err)
	}
	if err := json.Unmarshal(errs, &res.Errors); err != nil {
		return res, fmt.Errorf("failed to decode unit errors: %w", err)
	}
	return res, nil
}
