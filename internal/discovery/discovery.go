// Package discovery resolves the leaf client accounts reachable from a
// manager account. It only reads; nothing is persisted here.
package discovery

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/ads"
	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"
	"github.com/Guizzs26/go-ads-sync/pkg/encoding"
)

// MaxDepth bounds how deep sub-manager links are followed
const MaxDepth = 8

type Discovery struct {
	client ads.Client
	logger *slog.Logger
}

func New(client ads.Client, logger *slog.Logger) *Discovery {
	return &Discovery{client: client, logger: logger}
}

// Unreachable is a sub-manager whose children could not be listed
type Unreachable struct {
	ManagerID string
	Err       error
}

// Result is what one walk of a manager tree found
type Result struct {
	Accounts    []models.Account
	Unreachable []Unreachable
}

// Complete reports whether every sub-manager in the tree was read. Accounts
// missing from an incomplete result may still be reachable.
func (r Result) Complete() bool {
	return len(r.Unreachable) == 0
}

// Discover returns every enabled client account under managerID, with nested
// sub-managers flattened to their leaves, ordered by account id.
//
// A structurally invalid manager id is a configuration error. Failing to
// reach the manager itself is returned as-is (access denied, transient or
// configuration). A sub-manager that cannot be read is reported in
// Result.Unreachable and the walk continues.
func (d *Discovery) Discover(ctx context.Context, managerID string) (Result, error) {
	root, ok := ads.NormalizeCustomerID(managerID)
	if !ok {
		return Result{}, syncerr.New(syncerr.KindConfiguration, "discover", "manager account id %q is not a 10 digit customer id", managerID)
	}

	start := time.Now()
	leaves := make(map[string]models.Account)
	visited := map[string]bool{root: true}
	var res Result
	inactive := 0

	var walk func(id string, depth int) error
	walk = func(id string, depth int) error {
		children, err := d.client.DiscoverAccounts(ctx, id)
		if err != nil {
			return err
		}
		for _, child := range children {
			cid, ok := ads.NormalizeCustomerID(child.ID)
			if !ok {
				d.logger.Warn("Ignoring account with malformed id", "manager_id", id, "account_id", child.ID)
				continue
			}
			if !child.Manager {
				if !enabled(child.Status) {
					inactive++
					d.logger.Info("Skipping client account that is not enabled", "account_id", cid, "status", child.Status)
					continue
				}
				if _, seen := leaves[cid]; !seen {
					leaves[cid] = toAccount(root, cid, child, d.logger)
				}
				continue
			}
			if visited[cid] {
				continue
			}
			visited[cid] = true
			if depth+1 > MaxDepth {
				d.logger.Warn("Sub-manager nesting too deep, not descending", "manager_id", cid, "depth", depth+1)
				continue
			}
			if err := walk(cid, depth+1); err != nil {
				if syncerr.KindOf(err) == syncerr.KindCanceled {
					return err
				}
				d.logger.Warn("Sub-manager could not be read", "manager_id", cid, "error", err)
				res.Unreachable = append(res.Unreachable, Unreachable{ManagerID: cid, Err: err})
			}
		}
		return nil
	}

	if err := walk(root, 0); err != nil {
		return Result{}, syncerr.Wrap(syncerr.KindUnknown, "discover "+root, err)
	}

	res.Accounts = make([]models.Account, 0, len(leaves))
	for _, a := range leaves {
		res.Accounts = append(res.Accounts, a)
	}
	slices.SortFunc(res.Accounts, func(a, b models.Account) int { return strings.Compare(a.ExternalID, b.ExternalID) })

	d.logger.Info("Account discovery complete",
		"manager_id", root,
		"accounts", len(res.Accounts),
		"inactive", inactive,
		"sub_managers", len(visited)-1,
		"unreachable", len(res.Unreachable),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// enabled is true for ENABLED and for an unreported status
func enabled(status string) bool {
	return status == "" || strings.EqualFold(strings.TrimSpace(status), "ENABLED")
}

func toAccount(managerID, id string, s ads.AccountSummary, logger *slog.Logger) models.Account {
	currency, ok := encoding.CurrencyCode(s.CurrencyCode)
	if !ok && s.CurrencyCode != "" {
		logger.Warn("Account reports unknown currency code", "account_id", id, "currency", s.CurrencyCode)
	}
	tz := strings.TrimSpace(s.TimeZone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			logger.Warn("Account reports unknown time zone", "account_id", id, "time_zone", tz)
		}
	}
	return models.Account{
		ExternalID:   id,
		ManagerID:    managerID,
		Name:         encoding.NormalizeName(s.Name),
		CurrencyCode: currency,
		TimeZone:     tz,
		Active:       true,
	}
}
