package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/ads"
	"github.com/Guizzs26/go-ads-sync/internal/ads/adstest"
	"github.com/Guizzs26/go-ads-sync/internal/config"
	"github.com/Guizzs26/go-ads-sync/internal/db"
	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStore(t *testing.T) {
	store, err := OpenStore(context.Background(), &config.Config{Store: StoreMemory}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &db.MemoryStore{}, store)

	_, err = OpenStore(context.Background(), &config.Config{Store: "sqlite"}, quietLogger())
	assert.ErrorContains(t, err, "unknown STORE")
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicy(config.SyncConfig{RetryAttempts: 5, RetryMinDelay: time.Second, RetryMaxDelay: time.Minute})
	assert.Equal(t, 5, p.Attempts)
	assert.Equal(t, time.Second, p.MinDelay)
	assert.Equal(t, time.Minute, p.MaxDelay)
}

func TestBuildRejectsMissingCredentials(t *testing.T) {
	_, err := Build(context.Background(), &config.Config{Store: StoreMemory}, quietLogger())
	require.Error(t, err)
	assert.Equal(t, syncerr.KindConfiguration, syncerr.KindOf(err))
}

func TestNewOrchestratorRunsAgainstMemoryStore(t *testing.T) {
	fake := adstest.New().AddAccount("9990001111", ads.AccountSummary{ID: "1110001111", Name: "Shop"})
	store := db.NewMemoryStore()
	cfg := &config.Config{Sync: config.SyncConfig{Workers: 2, RetryAttempts: 1, DefaultDaysBack: 1, MaxDaysBack: 30}}

	summary, err := NewOrchestrator(cfg, fake, store, quietLogger()).Run(context.Background(), models.SyncRequest{
		ManagerAccountID: "9990001111",
		Mode:             models.ModeFull,
	})

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, summary.Outcome)
	_, ok := store.Account("1110001111")
	assert.True(t, ok)
}
