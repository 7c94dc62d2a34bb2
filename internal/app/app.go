// Package app wires the sync engine from configuration. Both binaries share it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-ads-sync/internal/ads"
	"github.com/Guizzs26/go-ads-sync/internal/config"
	"github.com/Guizzs26/go-ads-sync/internal/db"
	"github.com/Guizzs26/go-ads-sync/internal/discovery"
	"github.com/Guizzs26/go-ads-sync/internal/fetcher"
	"github.com/Guizzs26/go-ads-sync/internal/secrets"
	"github.com/Guizzs26/go-ads-sync/internal/service"
	"github.com/Guizzs26/go-ads-sync/pkg/infra"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Store is everything the engine persists through
type Store interface {
	service.Store
	service.SyncLog
}

// App holds the wired engine and releases its resources on Close
type App struct {
	Orchestrator *service.Orchestrator
	Store        Store
	closers      []func()
}

// Build loads credentials, opens the store and assembles the orchestrator
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg.Ads.CredentialsSecretID != "" {
		api, err := secrets.NewAPI(ctx, cfg.Ads.AWSRegion)
		if err != nil {
			return nil, err
		}
		if err := secrets.Apply(ctx, api, &cfg.Ads, logger); err != nil {
			return nil, err
		}
	}

	client, err := ads.NewHTTPClient(ctx, cfg.Ads, logger)
	if err != nil {
		return nil, err
	}

	a := &App{}
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store
	if pg, ok := store.(*db.PostgresStore); ok {
		a.closers = append(a.closers, pg.Close)
	}

	a.Orchestrator = NewOrchestrator(cfg, client, store, logger)
	return a, nil
}

// NewOrchestrator assembles discovery, fetching and upserts around client
func NewOrchestrator(cfg *config.Config, client ads.Client, store Store, logger *slog.Logger) *service.Orchestrator {
	retrying := ads.WithRetry(client, RetryPolicy(cfg.Sync), logger)
	return service.NewOrchestrator(
		discovery.New(retrying, logger),
		fetcher.New(retrying, logger, fetcher.WithRemovedRetention(cfg.Sync.RemovedRetentionDays)),
		store,
		store,
		service.OptionsFromConfig(cfg.Sync),
		logger,
	)
}

// RetryPolicy derives the remote call policy from the sync settings
func RetryPolicy(c config.SyncConfig) infra.RetryPolicy {
	return infra.RetryPolicy{
		Attempts:   c.RetryAttempts,
		MinDelay:   c.RetryMinDelay,
		MaxDelay:   c.RetryMaxDelay,
		Multiplier: 2.0,
	}
}

// OpenStore returns the store named by cfg.Store. Postgres is migrated first.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.Store {
	case StorePostgres:
		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			return nil, err
		}
		store, err := db.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.Sync.Workers, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoreMemory:
		logger.Warn("Using in-memory store, nothing will outlive this process")
		return db.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown STORE %q (want %s or %s)", cfg.Store, StorePostgres, StoreMemory)
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
