package db

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/mapper"
	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"
	"github.com/Guizzs26/go-ads-sync/pkg/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL error codes the store reacts to
const (
	pgForeignKeyViolation = "23503"
	pgSerializationFail   = "40001"
	pgDeadlockDetected    = "40P01"
	pgRaiseException      = "P0001"
)

const maxTxAttempts = 3

// connsPerWorker is what one account in flight can hold at once: the
// connection pinned by its advisory lock plus two same-tier upserts
const connsPerWorker = 3

// PoolSize is the smallest pool that lets workers accounts run at once
// without waiting on each other for connections
func PoolSize(workers int) int32 {
	return int32(max(workers, 1)*connsPerWorker + 2)
}

// PostgresStore is the replica: upsert layer, account locks and sync log
type PostgresStore struct {
	pool   *pgxpool.Pool
	sql    *mapper.SQLBuilder
	logger *slog.Logger
}

// NewPostgresStore opens a pool sized for workers concurrent accounts. A
// larger pool_max_conns in connString is kept.
func NewPostgresStore(ctx context.Context, connString string, workers int, logger *slog.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if need := PoolSize(workers); config.MaxConns < need {
		config.MaxConns = need
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	logger.Info("Connected to Postgres successfully", "max_conns", config.MaxConns)

	return &PostgresStore{pool: p, sql: mapper.NewSQLBuilder(), logger: logger}, nil
}

// Close gracefully shuts down the connection pool
func (s *PostgresStore) Close() {
	s.logger.Info("Closing Postgres connection pool")
	s.pool.Close()
}

// LockAccount serializes runs per account with a session advisory lock held
// on a dedicated connection. It blocks until the lock is granted or ctx ends.
func (s *PostgresStore) LockAccount(ctx context.Context, accountID string) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransient, "lock account", err)
	}

	key := lockKey(accountID)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		conn.Release()
		return nil, classify("lock account", err)
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", key); err != nil {
			// closing the session drops any advisory lock it still holds
			s.logger.Error("Failed to release account lock, closing session", "account_id", accountID, "error", err)
			_ = conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}, nil
}

func lockKey(accountID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("ads-sync/account/" + accountID))
	return int64(h.Sum64())
}

// inTx runs fn in one read-committed transaction, retrying the whole
// transaction on deadlocks and serialization failures
func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isLockConflict(err) {
			return classify(op, err)
		}
		lastErr = err
		metrics.RemoteRetries.WithLabelValues("tx:" + op).Inc()

		backoff := time.Duration(attempt) * 200 * time.Millisecond
		s.logger.Warn("Postgres lock contention detected, retrying transaction",
			"operation", op,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return classify(op, ctx.Err())
		case <-time.After(backoff):
		}
	}
	return syncerr.New(syncerr.KindTransient, op, "failed after %d attempts: %v", maxTxAttempts, lastErr)
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	// Rollback is a no-op once Commit succeeded
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func isLockConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgDeadlockDetected || pgErr.Code == pgSerializationFail
	}
	return false
}

// classify maps driver errors onto the sync taxonomy. Already classified
// errors keep their kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if kind := syncerr.KindOf(err); kind != syncerr.KindUnknown {
		return syncerr.Wrap(kind, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgForeignKeyViolation:
			return syncerr.Wrap(syncerr.KindIntegrity, op, err)
		case pgErr.Code == pgRaiseException && strings.Contains(pgErr.Message, "finalized"):
			return syncerr.Wrap(syncerr.KindIntegrity, op, ErrRunFinalized)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"), strings.HasPrefix(pgErr.Code, "57"):
			// connection, resource and operator-intervention classes
			return syncerr.Wrap(syncerr.KindTransient, op, err)
		}
		return syncerr.Wrap(syncerr.KindUnknown, op, err)
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return syncerr.Wrap(syncerr.KindTransient, op, err)
	}
	return syncerr.Wrap(syncerr.KindUnknown, op, err)
}

func integrity(op, format string, args ...any) error {
	return syncerr.New(syncerr.KindIntegrity, op, format, args...)
}

func entityOp(et models.EntityType) string {
	return "upsert " + string(et)
}
