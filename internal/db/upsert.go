package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"

	"github.com/jackc/pgx/v5"
)

// UpsertAccount inserts or refreshes an account row and reactivates it
func (s *PostgresStore) UpsertAccount(ctx context.Context, a models.Account) error {
	query, args, err := s.sql.BuildUpsert("accounts", []string{"external_id"}, map[string]any{
		"external_id":   a.ExternalID,
		"manager_id":    a.ManagerID,
		"name":          a.Name,
		"currency_code": a.CurrencyCode,
		"time_zone":     a.TimeZone,
		"active":        true,
	})
	if err != nil {
		return syncerr.Wrap(syncerr.KindUnknown, "upsert account", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return classify("upsert account", err)
	}
	return nil
}

// DeactivateMissingAccounts soft-deactivates accounts of managerID that are
// not in keep and returns how many rows changed
func (s *PostgresStore) DeactivateMissingAccounts(ctx context.Context, managerID string, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET active = FALSE, updated_at = now()
		WHERE manager_id = $1 AND active AND NOT (external_id = ANY($2))`,
		managerID, keep,
	)
	if err != nil {
		return 0, classify("deactivate accounts", err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkAccountSynced stamps the outcome of the latest run on the account row
func (s *PostgresStore) MarkAccountSynced(ctx context.Context, accountID string, outcome models.Outcome, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET last_synced_at = $2, last_sync_status = $3 WHERE external_id = $1`,
		accountID, at, string(outcome),
	)
	if err != nil {
		return classify("mark account synced", err)
	}
	if tag.RowsAffected() == 0 {
		return integrity("mark account synced", "account %s not found", accountID)
	}
	return nil
}

func (s *PostgresStore) UpsertCampaigns(ctx context.Context, accountID string, campaigns []models.Campaign) (int, error) {
	op := entityOp(models.EntityCampaigns)
	err := s.inTx(ctx, op, func(tx pgx.Tx) error {
		acct, err := accountKey(ctx, tx, op, accountID)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, c := range campaigns {
			if c.AccountID != accountID {
				return integrity(op, "campaign %s belongs to account %s, not %s", c.ExternalID, c.AccountID, accountID)
			}
			if err := s.queue(batch, "campaigns", []string{"account_id", "external_id"}, map[string]any{
				"account_id":    acct,
				"external_id":   c.ExternalID,
				"name":          c.Name,
				"status":        string(c.Status),
				"channel_type":  c.ChannelType,
				"start_date":    c.StartDate,
				"end_date":      c.EndDate,
				"budget_micros": c.BudgetMicros,
				"budget_type":   c.BudgetType,
			}); err != nil {
				return err
			}
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, err
	}
	return len(campaigns), nil
}

func (s *PostgresStore) UpsertAdGroups(ctx context.Context, accountID string, groups []models.AdGroup) (int, error) {
	op := entityOp(models.EntityAdGroups)
	err := s.inTx(ctx, op, func(tx pgx.Tx) error {
		acct, err := accountKey(ctx, tx, op, accountID)
		if err != nil {
			return err
		}
		campaigns, err := campaignKeys(ctx, tx, acct)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, g := range groups {
			if g.AccountID != accountID {
				return integrity(op, "ad group %s belongs to account %s, not %s", g.ExternalID, g.AccountID, accountID)
			}
			parent, ok := campaigns[g.CampaignExternalID]
			if !ok {
				return integrity(op, "ad group %s references missing campaign %s", g.ExternalID, g.CampaignExternalID)
			}
			if err := s.queue(batch, "ad_groups", []string{"campaign_id", "external_id"}, map[string]any{
				"campaign_id": parent,
				"external_id": g.ExternalID,
				"name":        g.Name,
				"status":      string(g.Status),
				"type":        g.Type,
			}); err != nil {
				return err
			}
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, err
	}
	return len(groups), nil
}

func (s *PostgresStore) UpsertAds(ctx context.Context, accountID string, ads []models.Ad) (int, error) {
	op := entityOp(models.EntityAds)
	err := s.inTx(ctx, op, func(tx pgx.Tx) error {
		acct, err := accountKey(ctx, tx, op, accountID)
		if err != nil {
			return err
		}
		groups, err := adGroupKeys(ctx, tx, acct)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, a := range ads {
			if a.AccountID != accountID {
				return integrity(op, "ad %s belongs to account %s, not %s", a.ExternalID, a.AccountID, accountID)
			}
			parent, ok := groups[groupPath{a.CampaignExternalID, a.AdGroupExternalID}]
			if !ok {
				return integrity(op, "ad %s references missing ad group %s/%s", a.ExternalID, a.CampaignExternalID, a.AdGroupExternalID)
			}
			creative := a.Creative
			if len(creative) == 0 {
				creative = []byte("{}")
			}
			if err := s.queue(batch, "ads", []string{"ad_group_id", "external_id"}, map[string]any{
				"ad_group_id": parent,
				"external_id": a.ExternalID,
				"status":      string(a.Status),
				"type":        a.Type,
				"creative":    json.RawMessage(creative),
			}); err != nil {
				return err
			}
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, err
	}
	return len(ads), nil
}

func (s *PostgresStore) UpsertKeywords(ctx context.Context, accountID string, keywords []models.Keyword) (int, error) {
	op := entityOp(models.EntityKeywords)
	err := s.inTx(ctx, op, func(tx pgx.Tx) error {
		acct, err := accountKey(ctx, tx, op, accountID)
		if err != nil {
			return err
		}
		groups, err := adGroupKeys(ctx, tx, acct)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, k := range keywords {
			if k.AccountID != accountID {
				return integrity(op, "keyword %s belongs to account %s, not %s", k.ExternalID, k.AccountID, accountID)
			}
			parent, ok := groups[groupPath{k.CampaignExternalID, k.AdGroupExternalID}]
			if !ok {
				return integrity(op, "keyword %s references missing ad group %s/%s", k.ExternalID, k.CampaignExternalID, k.AdGroupExternalID)
			}
			if err := s.queue(batch, "keywords", []string{"ad_group_id", "external_id"}, map[string]any{
				"ad_group_id":   parent,
				"external_id":   k.ExternalID,
				"text":          k.Text,
				"match_type":    string(k.MatchType),
				"status":        string(k.Status),
				"quality_score": k.QualityScore,
			}); err != nil {
				return err
			}
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, err
	}
	return len(keywords), nil
}

// UpsertPerformance overwrites the daily totals of every record. Records
// outside w or owned by an entity that is not stored fail the whole batch.
func (s *PostgresStore) UpsertPerformance(ctx context.Context, accountID string, w models.DateWindow, records []models.PerformanceRecord) (int, error) {
	op := entityOp(models.EntityPerformance)
	err := s.inTx(ctx, op, func(tx pgx.Tx) error {
		acct, err := accountKey(ctx, tx, op, accountID)
		if err != nil {
			return err
		}
		var campaigns map[string]int64
		var groups map[groupPath]int64
		var keywords map[keywordPath]int64

		batch := &pgx.Batch{}
		for _, r := range records {
			ref := r.Owner
			if ref.AccountID != accountID {
				return integrity(op, "performance row %s belongs to another account", ref.Key())
			}
			if !w.Contains(r.Date) {
				return integrity(op, "performance row %s dated %s outside window %s", ref.Key(), r.Date.Format(time.DateOnly), w)
			}

			data := map[string]any{
				"owner_key":        ref.Key(),
				"level":            string(ref.Level),
				"account_id":       acct,
				"date":             r.Date,
				"impressions":      r.Impressions,
				"clicks":           r.Clicks,
				"cost_micros":      r.CostMicros,
				"conversions":      r.Conversions,
				"conversion_value": r.ConversionValue,
			}

			switch ref.Level {
			case models.LevelAccount:
			case models.LevelCampaign:
				if campaigns == nil {
					if campaigns, err = campaignKeys(ctx, tx, acct); err != nil {
						return err
					}
				}
				id, ok := campaigns[ref.CampaignID]
				if !ok {
					return integrity(op, "performance row %s references missing campaign", ref.Key())
				}
				data["campaign_id"] = id
			case models.LevelAdGroup:
				if groups == nil {
					if groups, err = adGroupKeys(ctx, tx, acct); err != nil {
						return err
					}
				}
				id, ok := groups[groupPath{ref.CampaignID, ref.AdGroupID}]
				if !ok {
					return integrity(op, "performance row %s references missing ad group", ref.Key())
				}
				data["ad_group_id"] = id
			case models.LevelKeyword:
				if keywords == nil {
					if keywords, err = keywordKeys(ctx, tx, acct); err != nil {
						return err
					}
				}
				id, ok := keywords[keywordPath{ref.CampaignID, ref.AdGroupID, ref.KeywordID}]
				if !ok {
					return integrity(op, "performance row %s references missing keyword", ref.Key())
				}
				data["keyword_id"] = id
			default:
				return integrity(op, "performance row has unknown level %q", ref.Level)
			}

			if err := s.queue(batch, "performance_records", []string{"owner_key", "date"}, data); err != nil {
				return err
			}
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *PostgresStore) queue(batch *pgx.Batch, table string, conflict []string, data map[string]any) error {
	query, args, err := s.sql.BuildUpsert(table, conflict, data)
	if err != nil {
		return syncerr.Wrap(syncerr.KindUnknown, "build upsert", err)
	}
	batch.Queue(query, args...)
	return nil
}

type groupPath struct{ campaign, adGroup string }

type keywordPath struct{ campaign, adGroup, keyword string }

func accountKey(ctx context.Context, tx pgx.Tx, op, accountID string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, "SELECT id FROM accounts WHERE external_id = $1", accountID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, integrity(op, "account %s not found", accountID)
	}
	return id, err
}

func campaignKeys(ctx context.Context, tx pgx.Tx, account int64) (map[string]int64, error) {
	rows, err := tx.Query(ctx, "SELECT external_id, id FROM campaigns WHERE account_id = $1", account)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]int64)
	var ext string
	var id int64
	_, err = pgx.ForEachRow(rows, []any{&ext, &id}, func() error {
		keys[ext] = id
		return nil
	})
	return keys, err
}

func adGroupKeys(ctx context.Context, tx pgx.Tx, account int64) (map[groupPath]int64, error) {
	rows, err := tx.Query(ctx, `
		SELECT c.external_id, g.external_id, g.id
		FROM ad_groups g JOIN campaigns c ON c.id = g.campaign_id
		WHERE c.account_id = $1`, account)
	if err != nil {
		return nil, err
	}
	keys := make(map[groupPath]int64)
	var p groupPath
	var id int64
	_, err = pgx.ForEachRow(rows, []any{&p.campaign, &p.adGroup, &id}, func() error {
		keys[p] = id
		return nil
	})
	return keys, err
}

func keywordKeys(ctx context.Context, tx pgx.Tx, account int64) (map[keywordPath]int64, error) {
	rows, err := tx.Query(ctx, `
		SELECT c.external_id, g.external_id, k.external_id, k.id
		FROM keywords k
		JOIN ad_groups g ON g.id = k.ad_group_id
		JOIN campaigns c ON c.id = g.campaign_id
		WHERE c.account_id = $1`, account)
	if err != nil {
		return nil, err
	}
	keys := make(map[keywordPath]int64)
	var p keywordPath
	var id int64
	_, err = pgx.ForEachRow(rows, []any{&p.campaign, &p.adGroup, &p.keyword, &id}, func() error {
		keys[p] = id
		return nil
	})
	return keys, err
}
