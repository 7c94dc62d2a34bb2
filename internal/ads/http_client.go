package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/config"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const adwordsScope = "https://www.googleapis.com/auth/adwords"

// maxErrorBody caps how much of an error response is read into the error message
const maxErrorBody = 4 << 10

// HTTPClient talks to the platform's REST search endpoint
type HTTPClient struct {
	http            *http.Client
	baseURL         string
	version         string
	developerToken  string
	loginCustomerID string
	logger          *slog.Logger
}

// NewHTTPClient validates the credentials and returns a client whose
// transport refreshes OAuth access tokens from the configured refresh token
func NewHTTPClient(ctx context.Context, cfg config.AdsConfig, logger *slog.Logger) (*HTTPClient, error) {
	var missing []string
	for name, v := range map[string]string{
		"developer token": cfg.DeveloperToken,
		"client id":       cfg.ClientID,
		"client secret":   cfg.ClientSecret,
		"refresh token":   cfg.RefreshToken,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, syncerr.New(syncerr.KindConfiguration, "ads client", "missing credentials: %s", strings.Join(missing, ", "))
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{adwordsScope},
	}
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
		TokenType:    "Bearer",
	}
	hc := oauth2.NewClient(ctx, oauthConfig.TokenSource(ctx, token))
	hc.Timeout = 60 * time.Second

	return NewHTTPClientWith(hc, cfg, logger), nil
}

// NewHTTPClientWith uses hc as-is; hc must already attach credentials
func NewHTTPClientWith(hc *http.Client, cfg config.AdsConfig, logger *slog.Logger) *HTTPClient {
	login, _ := NormalizeCustomerID(cfg.LoginCustomerID)
	return &HTTPClient{
		http:            hc,
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		version:         cfg.APIVersion,
		developerToken:  cfg.DeveloperToken,
		loginCustomerID: login,
		logger:          logger,
	}
}

// DiscoverAccounts lists the direct children of managerID via customer_client
func (c *HTTPClient) DiscoverAccounts(ctx context.Context, managerID string) ([]AccountSummary, error) {
	q := Query{
		Resource: "customer_client",
		Fields: []string{
			"customer_client.id",
			"customer_client.descriptive_name",
			"customer_client.currency_code",
			"customer_client.time_zone",
			"customer_client.manager",
			"customer_client.status",
			"customer_client.level",
		},
		Where: []string{"customer_client.level = 1"},
	}

	var out []AccountSummary
	token := ""
	for {
		page, err := c.Search(ctx, managerID, q, token)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindUnknown, "discover accounts", err)
		}
		for _, row := range page.Rows {
			id := row.Text("customer_client.id")
			if id == "" {
				return nil, syncerr.New(syncerr.KindMalformed, "discover accounts", "customer_client row without id")
			}
			out = append(out, AccountSummary{
				ID:           id,
				Name:         row.Text("customer_client.descriptive_name"),
				CurrencyCode: row.Text("customer_client.currency_code"),
				TimeZone:     row.Text("customer_client.time_zone"),
				Manager:      row.Text("customer_client.manager") == "true",
				Status:       row.Text("customer_client.status"),
			})
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		token = page.NextPageToken
	}
}

type searchRequest struct {
	Query     string `json:"query"`
	PageToken string `json:"pageToken,omitempty"`
}

type searchResponse struct {
	Results       []map[string]any `json:"results"`
	NextPageToken string           `json:"nextPageToken"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Search posts one page of q to googleAds:search
func (c *HTTPClient) Search(ctx context.Context, customerID string, q Query, pageToken string) (Page, error) {
	op := "search " + q.Resource
	id, ok := NormalizeCustomerID(customerID)
	if !ok {
		return Page{}, syncerr.New(syncerr.KindConfiguration, op, "invalid customer id %q", customerID)
	}

	body, err := json.Marshal(searchRequest{Query: q.String(), PageToken: pageToken})
	if err != nil {
		return Page{}, syncerr.Wrap(syncerr.KindConfiguration, op, err)
	}

	url := fmt.Sprintf("%s/%s/customers/%s/googleAds:search", c.baseURL, c.version, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Page{}, syncerr.Wrap(syncerr.KindConfiguration, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("developer-token", c.developerToken)
	if c.loginCustomerID != "" {
		req.Header.Set("login-customer-id", c.loginCustomerID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Remote search completed",
		"customer_id", id,
		"resource", q.Resource,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Page{}, classifyStatus(op, resp.StatusCode, raw)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var sr searchResponse
	if err := dec.Decode(&sr); err != nil {
		return Page{}, syncerr.New(syncerr.KindMalformed, op, "decode response: %v", err)
	}

	page := Page{Rows: make([]Row, 0, len(sr.Results)), NextPageToken: sr.NextPageToken}
	for _, r := range sr.Results {
		page.Rows = append(page.Rows, FlattenJSON(r))
	}
	return page, nil
}

func classifyTransportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return syncerr.Wrap(syncerr.KindCanceled, op, err)
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		// invalid_grant / invalid_client mean the credentials themselves are wrong
		if re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_client" || re.ErrorCode == "unauthorized_client" {
			return syncerr.Wrap(syncerr.KindConfiguration, op, err)
		}
	}
	return syncerr.Wrap(syncerr.KindTransient, op, err)
}

func classifyStatus(op string, status int, raw []byte) error {
	msg := strings.TrimSpace(string(raw))
	var ae apiError
	if json.Unmarshal(raw, &ae) == nil && ae.Error.Message != "" {
		msg = ae.Error.Status + ": " + ae.Error.Message
	}

	var kind syncerr.Kind
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		kind = syncerr.KindTransient
	case status == http.StatusUnauthorized:
		kind = syncerr.KindConfiguration
	case status == http.StatusForbidden || status == http.StatusNotFound:
		kind = syncerr.KindAccessDenied
	case status == http.StatusBadRequest:
		kind = syncerr.KindConfiguration
	default:
		kind = syncerr.KindMalformed
	}
	return syncerr.New(kind, op, "http %d: %s", status, msg)
}
