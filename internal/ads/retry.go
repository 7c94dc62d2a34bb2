package ads

import (
	"context"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/syncerr"
	"github.com/Guizzs26/go-ads-sync/pkg/infra"
	"github.com/Guizzs26/go-ads-sync/pkg/metrics"
)

// retryingClient applies one retry policy to every remote call. Only
// transient failures are retried; the other kinds are returned on first sight.
type retryingClient struct {
	next   Client
	policy infra.RetryPolicy
	logger *slog.Logger
}

// WithRetry wraps c so every call retries transient failures with jittered
// exponential backoff, up to policy.Attempts calls in total
func WithRetry(c Client, policy infra.RetryPolicy, logger *slog.Logger) Client {
	return &retryingClient{next: c, policy: policy, logger: logger}
}

func (r *retryingClient) DiscoverAccounts(ctx context.Context, managerID string) ([]AccountSummary, error) {
	var out []AccountSummary
	err := infra.Retry(ctx, r.policy, syncerr.Retryable, r.onRetry("discover_accounts", managerID),
		func(ctx context.Context) error {
			var err error
			out, err = r.next.DiscoverAccounts(ctx, managerID)
			return err
		})
	return out, err
}

func (r *retryingClient) Search(ctx context.Context, customerID string, q Query, pageToken string) (Page, error) {
	var out Page
	err := infra.Retry(ctx, r.policy, syncerr.Retryable, r.onRetry("search:"+q.Resource, customerID),
		func(ctx context.Context) error {
			var err error
			out, err = r.next.Search(ctx, customerID, q, pageToken)
			return err
		})
	return out, err
}

func (r *retryingClient) onRetry(op, customerID string) func(int, time.Duration, error) {
	return func(attempt int, wait time.Duration, err error) {
		metrics.RemoteRetries.WithLabelValues(op).Inc()
		r.logger.Warn("Transient remote failure, backing off",
			"operation", op,
			"customer_id", customerID,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}
}
