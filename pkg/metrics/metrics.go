package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished runs by mode and outcome
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ads_sync_runs_total",
		Help: "Total number of sync runs finished",
	}, []string{"mode", "outcome"}) // outcome: success, partial, failure, aborted

	// RunDuration measures a whole run, discovery to finalize
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ads_sync_run_duration_seconds",
		Help:    "Duration of a sync run in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
	}, []string{"mode"})

	// UnitDuration measures one (account, entity type) fetch+upsert unit
	UnitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ads_sync_unit_duration_seconds",
		Help:    "Duration of a fetch+upsert unit in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"entity_type", "status"})

	// RecordsUpserted tracks committed rows per entity type
	RecordsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ads_sync_records_upserted_total",
		Help: "Total number of records committed by the upsert layer",
	}, []string{"entity_type"})

	// UnitFailures counts failed units by error kind
	UnitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ads_sync_unit_failures_total",
		Help: "Total number of failed fetch+upsert units",
	}, []string{"entity_type", "kind"})

	// RemoteRetries counts retries of remote API calls after transient failures
	RemoteRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ads_sync_remote_retries_total",
		Help: "Number of remote API calls retried after a transient failure",
	}, []string{"operation"})

	// AccountsInFlight is the number of accounts currently being processed
	AccountsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ads_sync_accounts_in_flight",
		Help: "Accounts currently held by a sync worker",
	})

	// HealthStatus is 1 while the broker link is up
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ads_sync_healthy",
		Help: "Current health status of the syncer (1 for healthy, 0 for unhealthy)",
	})

	// BrokerReconnections counts how many times the trigger consumer had to reconnect
	BrokerReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ads_sync_broker_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts",
	})

	// TriggersHandled counts trigger messages by how they were handled
	TriggersHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ads_sync_triggers_total",
		Help: "Total number of sync triggers handled",
	}, []string{"status"}) // status: processed, rejected, failed
)

var healthy atomic.Bool

// SetHealthy records the broker link state and mirrors it into HealthStatus
func SetHealthy(up bool) {
	healthy.Store(up)
	if up {
		HealthStatus.Set(1)
		return
	}
	HealthStatus.Set(0)
}

// Healthy reports the last state passed to SetHealthy
func Healthy() bool {
	return healthy.Load()
}
