// Package ads is the read-only boundary to the remote ads platform. The engine
// only ever talks to a Client; the REST implementation lives in HTTPClient and
// tests substitute adstest.Client.
package ads

import (
	"context"
	"fmt"
	"strings"

	"github.com/Guizzs26/go-ads-sync/internal/models"
)

// Client is the authenticated query interface to the remote platform.
// Implementations handle token refresh and low-level HTTP concerns and report
// failures as *syncerr.Error with one of the kinds Configuration, AccessDenied,
// Transient or Malformed.
type Client interface {
	// DiscoverAccounts lists the accounts directly linked under managerID,
	// including sub-managers (Manager=true)
	DiscoverAccounts(ctx context.Context, managerID string) ([]AccountSummary, error)
	// Search runs one page of q against customerID. An empty NextPageToken on
	// the returned page means there are no more pages.
	Search(ctx context.Context, customerID string, q Query, pageToken string) (Page, error)
}

// AccountSummary describes one account reachable from a manager
type AccountSummary struct {
	ID           string
	Name         string
	CurrencyCode string
	TimeZone     string
	Manager      bool
	Status       string
}

// Page is one page of a Search
type Page struct {
	Rows          []Row
	NextPageToken string
}

// Query is a structured GAQL statement. Window, when set, becomes a
// segments.date BETWEEN condition.
type Query struct {
	Resource string
	Fields   []string
	Where    []string
	Window   *models.DateWindow
	OrderBy  string
}

// String renders the query in the platform's query language
func (q Query) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(q.Fields, ", "), q.Resource)

	conds := make([]string, 0, len(q.Where)+1)
	conds = append(conds, q.Where...)
	if q.Window != nil {
		conds = append(conds, fmt.Sprintf("segments.date BETWEEN '%s' AND '%s'",
			q.Window.Start.Format("2006-01-02"), q.Window.End.Format("2006-01-02")))
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
	}
	return b.String()
}

// NormalizeCustomerID strips the dashes of the display form (123-456-7890).
// ok is false unless exactly ten digits remain.
func NormalizeCustomerID(id string) (string, bool) {
	id = strings.TrimSpace(strings.ReplaceAll(id, "-", ""))
	if len(id) != 10 {
		return id, false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return id, false
		}
	}
	return id, true
}
