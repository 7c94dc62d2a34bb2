// Package fetcher issues the typed per-entity queries for one account and
// turns result rows into models records. Pagination stays internal: callers
// see a single lazy sequence per (account, entity type).
package fetcher

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/ads"
	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"
)

// Fetcher reads entity classes for one account at a time
type Fetcher struct {
	client        ads.Client
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

type Option func(*Fetcher)

// WithRemovedRetention drops removed campaigns whose end date is more than
// days in the past, together with every ad group, ad, keyword and
// performance row under them. Zero or less keeps every removed campaign.
func WithRemovedRetention(days int) Option {
	return func(f *Fetcher) { f.retentionDays = days }
}

// WithClock overrides time.Now, used to evaluate the retention threshold
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

func New(client ads.Client, logger *slog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:        client,
		retentionDays: 30,
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Campaigns yields the account's campaigns. Removed campaigns past the
// retention threshold are left out.
func (f *Fetcher) Campaigns(ctx context.Context, accountID string) iter.Seq2[models.Campaign, error] {
	return normalized(f, ctx, accountID, models.EntityCampaigns, campaignQuery(), toCampaign)
}

// cutoff is the end date before which removed campaigns are purged. The zero
// time disables the rule.
func (f *Fetcher) cutoff() time.Time {
	if f.retentionDays <= 0 {
		return time.Time{}
	}
	return models.Day(f.now()).AddDate(0, 0, -f.retentionDays)
}

// retained reports whether r survives the retention rule. Rows that do not
// carry their campaign's status, such as account-level metrics, always do.
func retained(r ads.Row, cutoff time.Time) bool {
	if cutoff.IsZero() || models.ParseStatus(r.Text(fCampaignStatus)) != models.StatusRemoved {
		return true
	}
	end, err := r.Date(fCampaignEnd)
	if err != nil || end == nil {
		return true
	}
	return !end.Before(cutoff)
}

// AdGroups yields every ad group, removed ones included, except those under
// purged campaigns. Ads and Keywords follow the same rule.
func (f *Fetcher) AdGroups(ctx context.Context, accountID string) iter.Seq2[models.AdGroup, error] {
	return normalized(f, ctx, accountID, models.EntityAdGroups, adGroupQuery(), toAdGroup)
}

func (f *Fetcher) Ads(ctx context.Context, accountID string) iter.Seq2[models.Ad, error] {
	return normalized(f, ctx, accountID, models.EntityAds, adQuery(), toAd)
}

func (f *Fetcher) Keywords(ctx context.Context, accountID string) iter.Seq2[models.Keyword, error] {
	return normalized(f, ctx, accountID, models.EntityKeywords, keywordQuery(), toKeyword)
}

// Performance yields daily metrics for every level inside the inclusive
// window. Rows dated outside the window are dropped.
func (f *Fetcher) Performance(ctx context.Context, accountID string, w models.DateWindow) iter.Seq2[models.PerformanceRecord, error] {
	queries := performanceQueries(w)
	return func(yield func(models.PerformanceRecord, error) bool) {
		for _, level := range performanceLevels {
			toRecord := func(accountID string, r ads.Row) (models.PerformanceRecord, error) {
				return toPerformance(accountID, level, r)
			}
			for rec, err := range normalized(f, ctx, accountID, models.EntityPerformance, queries[level], toRecord) {
				if err == nil && !w.Contains(rec.Date) {
					f.logger.Warn("Dropping performance row outside requested window",
						"account_id", accountID,
						"level", level,
						"date", rec.Date.Format("2006-01-02"),
						"window", w.String(),
					)
					continue
				}
				if !yield(rec, err) || err != nil {
					return
				}
			}
		}
	}
}

// rows pages through q, yielding each row. A failed page ends the sequence
// with the classified error.
func (f *Fetcher) rows(ctx context.Context, accountID string, et models.EntityType, q ads.Query) iter.Seq2[ads.Row, error] {
	return func(yield func(ads.Row, error) bool) {
		token := ""
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, syncerr.Scoped(syncerr.Wrap(syncerr.KindCanceled, "fetch", err), accountID, et))
				return
			}
			page, err := f.client.Search(ctx, accountID, q, token)
			if err != nil {
				yield(nil, syncerr.Scoped(syncerr.Wrap(syncerr.KindUnknown, "fetch "+q.Resource, err), accountID, et))
				return
			}
			for _, r := range page.Rows {
				if !yield(r, nil) {
					return
				}
			}
			if page.NextPageToken == "" || page.NextPageToken == token {
				return
			}
			token = page.NextPageToken
		}
	}
}

// normalized maps rows through convert. A conversion failure is a malformed
// response and ends the sequence; rows the converter marks errSkip are logged
// and left out, as are rows under purged campaigns.
func normalized[T any](f *Fetcher, ctx context.Context, accountID string, et models.EntityType, q ads.Query, convert func(string, ads.Row) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		cutoff := f.cutoff()
		purged := 0
		defer func() {
			if purged > 0 {
				f.logger.Debug("Dropped rows under purged campaigns",
					"account_id", accountID,
					"entity_type", et,
					"resource", q.Resource,
					"rows", purged,
				)
			}
		}()
		for r, err := range f.rows(ctx, accountID, et, q) {
			if err != nil {
				yield(zero, err)
				return
			}
			if !retained(r, cutoff) {
				purged++
				continue
			}
			rec, err := convert(accountID, r)
			if errors.Is(err, errSkip) {
				f.logger.Warn("Skipping unsupported row", "account_id", accountID, "entity_type", et, "reason", err)
				continue
			}
			if err != nil {
				yield(zero, syncerr.Scoped(syncerr.New(syncerr.KindMalformed, "normalize "+q.Resource, "%v", err), accountID, et))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Collect drains seq into a slice, stopping at the first error
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
