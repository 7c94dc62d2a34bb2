// Package service drives sync runs: discovery, per-account fetch and upsert
// units in dependency order, and the sync log.
package service

import (
	"context"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/ads"
	"github.com/Guizzs26/go-ads-sync/internal/config"
	"github.com/Guizzs26/go-ads-sync/internal/discovery"
	"github.com/Guizzs26/go-ads-sync/internal/fetcher"
	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"
	"github.com/Guizzs26/go-ads-sync/pkg/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const cleanupTimeout = 10 * time.Second

// Discoverer lists the client accounts reachable from a manager
type Discoverer interface {
	Discover(ctx context.Context, managerID string) (discovery.Result, error)
}

// EntitySource yields normalized records per entity type for one account
type EntitySource interface {
	Campaigns(ctx context.Context, accountID string) iter.Seq2[models.Campaign, error]
	AdGroups(ctx context.Context, accountID string) iter.Seq2[models.AdGroup, error]
	Ads(ctx context.Context, accountID string) iter.Seq2[models.Ad, error]
	Keywords(ctx context.Context, accountID string) iter.Seq2[models.Keyword, error]
	Performance(ctx context.Context, accountID string, w models.DateWindow) iter.Seq2[models.PerformanceRecord, error]
}

// Store is the upsert layer. Each batch call is one transaction.
type Store interface {
	LockAccount(ctx context.Context, accountID string) (func(), error)
	UpsertAccount(ctx context.Context, a models.Account) error
	DeactivateMissingAccounts(ctx context.Context, managerID string, keep []string) (int, error)
	MarkAccountSynced(ctx context.Context, accountID string, outcome models.Outcome, at time.Time) error
	UpsertCampaigns(ctx context.Context, accountID string, campaigns []models.Campaign) (int, error)
	UpsertAdGroups(ctx context.Context, accountID string, groups []models.AdGroup) (int, error)
	UpsertAds(ctx context.Context, accountID string, ads []models.Ad) (int, error)
	UpsertKeywords(ctx context.Context, accountID string, keywords []models.Keyword) (int, error)
	UpsertPerformance(ctx context.Context, accountID string, w models.DateWindow, records []models.PerformanceRecord) (int, error)
}

type SyncLog interface {
	Begin(ctx context.Context, scope models.SyncScope) (uuid.UUID, error)
	RecordAccountResult(ctx context.Context, runID uuid.UUID, res models.AccountResult) error
	Finalize(ctx context.Context, runID uuid.UUID, outcome models.Outcome) (models.SyncLogEntry, error)
}

type Options struct {
	Workers         int
	UnitTimeout     time.Duration
	RunTimeout      time.Duration
	DefaultDaysBack int
	MaxDaysBack     int
	Now             func() time.Time
}

func OptionsFromConfig(c config.SyncConfig) Options {
	return Options{
		Workers:         c.Workers,
		UnitTimeout:     c.UnitTimeout,
		RunTimeout:      c.RunTimeout,
		DefaultDaysBack: c.DefaultDaysBack,
		MaxDaysBack:     c.MaxDaysBack,
	}
}

// Orchestrator runs sync requests end to end
type Orchestrator struct {
	discovery Discoverer
	source    EntitySource
	store     Store
	log       SyncLog
	opts      Options
	logger    *slog.Logger
}

func NewOrchestrator(d Discoverer, src EntitySource, store Store, log SyncLog, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.DefaultDaysBack < 1 {
		opts.DefaultDaysBack = 7
	}
	if opts.MaxDaysBack < 1 {
		opts.MaxDaysBack = 365
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{discovery: d, source: src, store: store, log: log, opts: opts, logger: logger}
}

// run is the state of one Run call
type run struct {
	id     uuid.UUID
	req    models.SyncRequest
	scope  models.SyncScope
	logger *slog.Logger
}

// Run executes one sync request. Only configuration errors (and a sync log
// that cannot be opened) are returned as errors; every account or unit
// failure is reported inside the summary.
func (o *Orchestrator) Run(ctx context.Context, req models.SyncRequest) (models.SyncSummary, error) {
	start := o.opts.Now()
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	logger := o.logger.With("correlation_id", req.CorrelationID, "mode", req.Mode)
	transition(logger, stateIdle)

	scope, clientID, err := o.plan(req, start, logger)
	if err != nil {
		transition(logger, stateFailed, "error", err)
		metrics.RunsTotal.WithLabelValues(string(req.Mode), "aborted").Inc()
		return models.SyncSummary{}, err
	}

	runCtx := ctx
	if o.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.opts.RunTimeout)
		defer cancel()
	}

	transition(logger, stateDiscovering, "manager_id", scope.ManagerAccountID)
	found, discoverErr := o.discovery.Discover(runCtx, scope.ManagerAccountID)
	accounts := found.Accounts
	if discoverErr != nil && syncerr.KindOf(discoverErr) == syncerr.KindConfiguration {
		transition(logger, stateFailed, "error", discoverErr)
		metrics.RunsTotal.WithLabelValues(string(req.Mode), "aborted").Inc()
		return models.SyncSummary{}, discoverErr
	}

	var missing []string
	if discoverErr == nil {
		switch {
		case req.Mode == models.ModeSingleAccount:
			accounts, missing = restrict(accounts, clientID)
		case found.Complete():
			o.deactivateMissing(runCtx, scope.ManagerAccountID, accounts, logger)
		default:
			logger.Warn("Discovery incomplete, unseen accounts stay active", "unreachable", len(found.Unreachable))
		}
		for _, a := range accounts {
			scope.AccountIDs = append(scope.AccountIDs, a.ExternalID)
		}
	}
	if req.Mode == models.ModeSingleAccount && len(scope.AccountIDs) == 0 {
		scope.AccountIDs = []string{clientID}
	}

	runID, err := o.log.Begin(runCtx, scope)
	if err != nil {
		transition(logger, stateFailed, "error", err)
		metrics.RunsTotal.WithLabelValues(string(req.Mode), "aborted").Inc()
		return models.SyncSummary{}, syncerr.Wrap(syncerr.KindUnknown, "begin sync log", err)
	}
	r := &run{id: runID, req: req, scope: scope, logger: logger.With("run_id", runID)}

	var results []models.AccountResult
	switch {
	case discoverErr != nil:
		r.logger.Error("Account discovery failed, no account can be synced", "error", discoverErr)
		results = []models.AccountResult{o.failedAccount(r, scope.ManagerAccountID, "", models.EntityAccounts, discoverErr)}
	default:
		transition(r.logger, statePerAccount, "accounts", len(accounts))
		results = o.runAccounts(runCtx, r, accounts)
		for _, id := range missing {
			err := syncerr.New(syncerr.KindAccessDenied, "discover", "account %s is not reachable from manager %s", id, scope.ManagerAccountID)
			results = append(results, o.failedAccount(r, id, "", models.EntityAccounts, err))
		}
		// a single account run only cares about sub-managers when its
		// account was not found
		if req.Mode != models.ModeSingleAccount || len(missing) > 0 {
			for _, u := range found.Unreachable {
				results = append(results, o.failedAccount(r, u.ManagerID, "", models.EntityAccounts, u.Err))
			}
		}
	}

	transition(r.logger, stateLogging)
	outcome := runOutcome(results)
	if runCtx.Err() != nil && ctx.Err() == nil && outcome != models.OutcomeSuccess {
		r.logger.Warn("Run deadline exceeded, pending units were canceled", "timeout", o.opts.RunTimeout)
		outcome = models.OutcomePartial
	}

	summary := models.SyncSummary{
		RunID:         runID,
		CorrelationID: req.CorrelationID,
		Mode:          req.Mode,
		Outcome:       outcome,
		Window:        scope.Window,
		PerAccount:    results,
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	entry, err := o.log.Finalize(cleanupCtx, runID, outcome)
	if err != nil {
		r.logger.Error("CRITICAL: Failed to finalize sync log", "error", err)
	} else {
		summary.PerAccount = entry.Accounts
	}

	elapsed := time.Since(start)
	metrics.RunsTotal.WithLabelValues(string(req.Mode), string(outcome)).Inc()
	metrics.RunDuration.WithLabelValues(string(req.Mode)).Observe(elapsed.Seconds())
	transition(r.logger, stateDone,
		"outcome", outcome,
		"accounts", len(summary.PerAccount),
		"duration_ms", elapsed.Milliseconds(),
	)

	if ctx.Err() != nil {
		return summary, syncerr.Wrap(syncerr.KindCanceled, "sync run", ctx.Err())
	}
	return summary, nil
}

// plan validates the request and resolves its scope and window
func (o *Orchestrator) plan(req models.SyncRequest, now time.Time, logger *slog.Logger) (models.SyncScope, string, error) {
	manager, ok := ads.NormalizeCustomerID(req.ManagerAccountID)
	if !ok {
		return models.SyncScope{}, "", syncerr.New(syncerr.KindConfiguration, "plan run", "manager account id %q is not a 10 digit customer id", req.ManagerAccountID)
	}
	scope := models.SyncScope{ManagerAccountID: manager, Mode: req.Mode, EntityTypes: models.AllEntityTypes}

	var clientID string
	switch req.Mode {
	case models.ModeFull:
		scope.Window = models.LastDays(now, o.daysBack(req.DaysBack, logger))
	case models.ModeIncremental:
		scope.Window = models.Yesterday(now)
	case models.ModeSingleAccount:
		if clientID, ok = ads.NormalizeCustomerID(req.ClientAccountID); !ok {
			return scope, "", syncerr.New(syncerr.KindConfiguration, "plan run", "client account id %q is not a 10 digit customer id", req.ClientAccountID)
		}
		types, err := models.ParseEntityTypes(req.EntityTypes)
		if err != nil {
			return scope, "", syncerr.Wrap(syncerr.KindConfiguration, "plan run", err)
		}
		scope.EntityTypes = types
		scope.Window = models.LastDays(now, o.daysBack(req.DaysBack, logger))
	default:
		return scope, "", syncerr.New(syncerr.KindConfiguration, "plan run", "unknown mode %q", req.Mode)
	}

	if req.Mode != models.ModeSingleAccount && len(req.EntityTypes) > 0 {
		logger.Warn("Entity type selection only applies to single account runs, syncing all types", "requested", req.EntityTypes)
	}
	return scope, clientID, nil
}

func (o *Orchestrator) daysBack(requested int, logger *slog.Logger) int {
	switch {
	case requested == 0:
		return o.opts.DefaultDaysBack
	case requested < 1:
		logger.Warn("days_back below 1, clamping", "requested", requested)
		return 1
	case requested > o.opts.MaxDaysBack:
		logger.Warn("days_back above limit, clamping", "requested", requested, "limit", o.opts.MaxDaysBack)
		return o.opts.MaxDaysBack
	}
	return requested
}

func (o *Orchestrator) deactivateMissing(ctx context.Context, managerID string, accounts []models.Account, logger *slog.Logger) {
	keep := make([]string, 0, len(accounts))
	for _, a := range accounts {
		keep = append(keep, a.ExternalID)
	}
	n, err := o.store.DeactivateMissingAccounts(ctx, managerID, keep)
	if err != nil {
		logger.Warn("Failed to deactivate unreachable accounts", "manager_id", managerID, "error", err)
		return
	}
	if n > 0 {
		logger.Info("Deactivated accounts no longer reachable", "manager_id", managerID, "count", n)
	}
}

// runAccounts processes accounts on a bounded pool. results[i] belongs to
// accounts[i]; the finalized log lists them by account id.
func (o *Orchestrator) runAccounts(ctx context.Context, r *run, accounts []models.Account) []models.AccountResult {
	results := make([]models.AccountResult, len(accounts))

	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i, a := range accounts {
		g.Go(func() error {
			results[i] = o.syncAccount(ctx, r, a)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) syncAccount(ctx context.Context, r *run, a models.Account) models.AccountResult {
	logger := r.logger.With("account_id", a.ExternalID)

	if err := ctx.Err(); err != nil {
		return o.failedAccount(r, a.ExternalID, a.Name, "", syncerr.Wrap(syncerr.KindCanceled, "run deadline", err))
	}

	unlock, err := o.store.LockAccount(ctx, a.ExternalID)
	if err != nil {
		return o.failedAccount(r, a.ExternalID, a.Name, models.EntityAccounts, err)
	}
	defer unlock()

	metrics.AccountsInFlight.Inc()
	defer metrics.AccountsInFlight.Dec()

	if err := o.store.UpsertAccount(ctx, a); err != nil {
		return o.failedAccount(r, a.ExternalID, a.Name, models.EntityAccounts, err)
	}

	units := o.runTiers(ctx, r, a.ExternalID, logger)

	res := models.AccountResult{
		AccountID:      a.ExternalID,
		AccountName:    a.Name,
		Outcome:        accountOutcome(units),
		EntitiesSynced: make(map[models.EntityType]int),
	}
	for _, u := range units {
		if u.OK() {
			res.EntitiesSynced[u.EntityType] = u.Count
			continue
		}
		res.Errors = append(res.Errors, u.UnitError())
	}

	o.record(ctx, r, res, logger)
	return res
}

// runTiers runs the requested entity types tier by tier. Units in one tier
// run concurrently; a unit whose dependency failed is not run.
func (o *Orchestrator) runTiers(ctx context.Context, r *run, accountID string, logger *slog.Logger) []syncerr.UnitResult {
	var results []syncerr.UnitResult
	failed := make(map[models.EntityType]bool)

	for _, tier := range models.EntityTiers {
		var selected []models.EntityType
		for _, et := range tier {
			if slices.Contains(r.scope.EntityTypes, et) {
				selected = append(selected, et)
			}
		}
		if len(selected) == 0 {
			continue
		}

		tierResults := make([]syncerr.UnitResult, len(selected))
		var g errgroup.Group
		for i, et := range selected {
			if dep, ok := failedDependency(et, failed); ok {
				skipped := syncerr.New(syncerr.KindCanceled, "skip", "dependency %s failed", dep)
				skipped.AccountID, skipped.EntityType = accountID, et
				logger.Warn("Skipping unit, dependency failed", "entity_type", et, "dependency", dep)
				tierResults[i] = syncerr.Failed(et, skipped)
				continue
			}
			g.Go(func() error {
				tierResults[i] = o.runUnit(ctx, r, accountID, et, logger.With("entity_type", et))
				return nil
			})
		}
		_ = g.Wait()

		for _, u := range tierResults {
			if !u.OK() {
				failed[u.EntityType] = true
			}
		}
		results = append(results, tierResults...)
	}
	return results
}

func failedDependency(et models.EntityType, failed map[models.EntityType]bool) (models.EntityType, bool) {
	for _, dep := range models.EntityDependencies[et] {
		if failed[dep] {
			return dep, true
		}
	}
	return "", false
}

// runUnit fetches then upserts one entity type for one account under its
// own deadline. The fetch completes before the upsert transaction opens.
func (o *Orchestrator) runUnit(ctx context.Context, r *run, accountID string, et models.EntityType, logger *slog.Logger) syncerr.UnitResult {
	start := time.Now()
	if o.opts.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.UnitTimeout)
		defer cancel()
	}

	logger.Debug("Fetching", "state", "fetching")
	n, err := o.syncEntity(ctx, r, accountID, et)

	status := "success"
	if err != nil {
		status = "failure"
		se := syncerr.Scoped(err, accountID, et)
		metrics.UnitFailures.WithLabelValues(string(et), se.Kind.String()).Inc()
		metrics.UnitDuration.WithLabelValues(string(et), status).Observe(time.Since(start).Seconds())
		if se.Kind == syncerr.KindIntegrity {
			logger.Error("Integrity violation, unit abandoned", "severity", "bug", "error", se)
		} else {
			logger.Warn("Unit failed", "kind", se.Kind.String(), "error", se)
		}
		return syncerr.Failed(et, se)
	}

	metrics.UnitDuration.WithLabelValues(string(et), status).Observe(time.Since(start).Seconds())
	metrics.RecordsUpserted.WithLabelValues(string(et)).Add(float64(n))
	logger.Info("Unit committed", "records", n, "duration_ms", time.Since(start).Milliseconds())
	return syncerr.Ok(et, n)
}

func (o *Orchestrator) syncEntity(ctx context.Context, r *run, accountID string, et models.EntityType) (int, error) {
	switch et {
	case models.EntityCampaigns:
		return apply(ctx, o.source.Campaigns(ctx, accountID), func(ctx context.Context, recs []models.Campaign) (int, error) {
			return o.store.UpsertCampaigns(ctx, accountID, recs)
		})
	case models.EntityAdGroups:
		return apply(ctx, o.source.AdGroups(ctx, accountID), func(ctx context.Context, recs []models.AdGroup) (int, error) {
			return o.store.UpsertAdGroups(ctx, accountID, recs)
		})
	case models.EntityAds:
		return apply(ctx, o.source.Ads(ctx, accountID), func(ctx context.Context, recs []models.Ad) (int, error) {
			return o.store.UpsertAds(ctx, accountID, recs)
		})
	case models.EntityKeywords:
		return apply(ctx, o.source.Keywords(ctx, accountID), func(ctx context.Context, recs []models.Keyword) (int, error) {
			return o.store.UpsertKeywords(ctx, accountID, recs)
		})
	case models.EntityPerformance:
		w := r.scope.Window
		return apply(ctx, o.source.Performance(ctx, accountID, w), func(ctx context.Context, recs []models.PerformanceRecord) (int, error) {
			return o.store.UpsertPerformance(ctx, accountID, w, recs)
		})
	}
	return 0, syncerr.New(syncerr.KindConfiguration, "sync entity", "unsupported entity type %q", et)
}

func apply[T any](ctx context.Context, seq iter.Seq2[T, error], upsert func(context.Context, []T) (int, error)) (int, error) {
	recs, err := fetcher.Collect(seq)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return upsert(ctx, recs)
}

// failedAccount records an account that failed as a whole. An empty et
// marks every requested entity type as failed.
func (o *Orchestrator) failedAccount(r *run, accountID, name string, et models.EntityType, err error) models.AccountResult {
	logger := r.logger.With("account_id", accountID)
	se := syncerr.Scoped(err, accountID, et)
	logger.Warn("Account failed", "kind", se.Kind.String(), "error", se)

	res := models.AccountResult{
		AccountID:      accountID,
		AccountName:    name,
		Outcome:        models.OutcomeFailure,
		EntitiesSynced: map[models.EntityType]int{},
	}
	if et != "" {
		res.Errors = []models.UnitError{syncerr.Failed(et, se).UnitError()}
	} else {
		for _, t := range r.scope.EntityTypes {
			res.Errors = append(res.Errors, syncerr.Failed(t, se).UnitError())
		}
	}
	o.record(context.Background(), r, res, logger)
	return res
}

// record stamps the account and writes its result to the sync log. Both
// happen even when the run deadline has passed.
func (o *Orchestrator) record(ctx context.Context, r *run, res models.AccountResult, logger *slog.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	res.RecordedAt = o.opts.Now().UTC()
	if err := o.store.MarkAccountSynced(cleanupCtx, res.AccountID, res.Outcome, res.RecordedAt); err != nil {
		logger.Debug("Account sync stamp not written", "error", err)
	}
	if err := o.log.RecordAccountResult(cleanupCtx, r.id, res); err != nil {
		logger.Error("CRITICAL: Failed to record account result", "error", err)
		return
	}
	logger.Info("Account result recorded", "outcome", res.Outcome, "errors", len(res.Errors))
}

// restrict keeps only the requested client account. The id is reported as
// missing when discovery did not return it.
func restrict(accounts []models.Account, clientID string) ([]models.Account, []string) {
	for _, a := range accounts {
		if a.ExternalID == clientID {
			return []models.Account{a}, nil
		}
	}
	return nil, []string{clientID}
}

func accountOutcome(units []syncerr.UnitResult) models.Outcome {
	ok := 0
	for _, u := range units {
		if u.OK() {
			ok++
		}
	}
	switch {
	case ok == len(units):
		return models.OutcomeSuccess
	case ok == 0:
		return models.OutcomeFailure
	default:
		return models.OutcomePartial
	}
}

func runOutcome(results []models.AccountResult) models.Outcome {
	var success, failure int
	for _, r := range results {
		switch r.Outcome {
		case models.OutcomeSuccess:
			success++
		case models.OutcomeFailure:
			failure++
		}
	}
	switch {
	case success == len(results):
		return models.OutcomeSuccess
	case failure == len(results):
		return models.OutcomeFailure
	default:
		return models.OutcomePartial
	}
}
