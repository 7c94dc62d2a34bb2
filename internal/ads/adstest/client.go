// Package adstest provides an in-memory ads.Client with fixture builders and
// fault injection, for tests that must not touch the network.
package adstest

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/Guizzs26/go-ads-sync/internal/ads"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"
)

type fault struct {
	err       error
	remaining int // < 0 fails forever
}

// Client serves fixture rows keyed by customer id and query resource
type Client struct {
	mu       sync.Mutex
	children map[string][]ads.AccountSummary
	rows     map[string]map[string][]ads.Row
	faults   map[string]*fault
	calls    map[string]int
	queries  []ads.Query
	PageSize int
	OnSearch func(customerID string, q ads.Query)
}

func New() *Client {
	return &Client{
		children: make(map[string][]ads.AccountSummary),
		rows:     make(map[string]map[string][]ads.Row),
		faults:   make(map[string]*fault),
		calls:    make(map[string]int),
		PageSize: 2,
	}
}

// AddAccount links s under managerID
func (c *Client) AddAccount(managerID string, s ads.AccountSummary) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children[managerID] = append(c.children[managerID], s)
	return c
}

// AddRows appends rows returned for queries on resource against customerID.
// Use "metrics:<resource>" for rows served to date-windowed queries.
func (c *Client) AddRows(customerID, resource string, rows ...ads.Row) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rows[customerID] == nil {
		c.rows[customerID] = make(map[string][]ads.Row)
	}
	c.rows[customerID][resource] = append(c.rows[customerID][resource], rows...)
	return c
}

// SetRows replaces the rows served for resource on customerID
func (c *Client) SetRows(customerID, resource string, rows ...ads.Row) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rows[customerID] == nil {
		c.rows[customerID] = make(map[string][]ads.Row)
	}
	c.rows[customerID][resource] = slices.Clone(rows)
	return c
}

// FailSearch makes the next times searches of resource on customerID fail
// with err; times < 0 fails every call
func (c *Client) FailSearch(customerID, resource string, err error, times int) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[searchKey(customerID, resource)] = &fault{err: err, remaining: times}
	return c
}

// FailDiscover makes discovery of managerID fail like FailSearch
func (c *Client) FailDiscover(managerID string, err error, times int) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[discoverKey(managerID)] = &fault{err: err, remaining: times}
	return c
}

// Calls returns how many times resource was searched on customerID
func (c *Client) Calls(customerID, resource string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[searchKey(customerID, resource)]
}

// DiscoverCalls returns how many times managerID was discovered
func (c *Client) DiscoverCalls(managerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[discoverKey(managerID)]
}

// Queries returns every query seen, in call order
func (c *Client) Queries() []ads.Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.queries)
}

func (c *Client) DiscoverAccounts(ctx context.Context, managerID string) ([]ads.AccountSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, syncerr.Wrap(syncerr.KindCanceled, "discover accounts", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := discoverKey(managerID)
	c.calls[key]++
	if err := c.trip(key); err != nil {
		return nil, err
	}
	children, ok := c.children[managerID]
	if !ok {
		return nil, syncerr.New(syncerr.KindAccessDenied, "discover accounts", "customer %s not reachable", managerID)
	}
	return slices.Clone(children), nil
}

func (c *Client) Search(ctx context.Context, customerID string, q ads.Query, pageToken string) (ads.Page, error) {
	if err := ctx.Err(); err != nil {
		return ads.Page{}, syncerr.Wrap(syncerr.KindCanceled, "search "+q.Resource, err)
	}
	resource := ResourceKey(q)
	c.mu.Lock()
	key := searchKey(customerID, resource)
	c.calls[key]++
	c.queries = append(c.queries, q)
	hook := c.OnSearch
	err := c.trip(key)
	all := c.rows[customerID][resource]
	c.mu.Unlock()

	if hook != nil {
		hook(customerID, q)
	}
	if err != nil {
		return ads.Page{}, err
	}

	offset := 0
	if pageToken != "" {
		n, convErr := strconv.Atoi(pageToken)
		if convErr != nil || n < 0 || n > len(all) {
			return ads.Page{}, syncerr.New(syncerr.KindMalformed, "search", "bad page token %q", pageToken)
		}
		offset = n
	}
	size := c.PageSize
	if size <= 0 {
		size = len(all)
	}
	end := min(offset+size, len(all))

	page := ads.Page{Rows: slices.Clone(all[offset:end])}
	if end < len(all) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (c *Client) trip(key string) error {
	f, ok := c.faults[key]
	if !ok || f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

// ResourceKey is the name rows and faults are registered under: the query
// resource, prefixed with "metrics:" for date-windowed queries
func ResourceKey(q ads.Query) string {
	if q.Window != nil {
		return "metrics:" + q.Resource
	}
	return q.Resource
}

func searchKey(customerID, resource string) string {
	return fmt.Sprintf("search/%s/%s", customerID, resource)
}

func discoverKey(managerID string) string {
	return "discover/" + managerID
}
