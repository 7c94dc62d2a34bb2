// Command trigger requests a sync run. By default it publishes a trigger to
// the broker; --local runs the sync in-process and prints the summary, and
// --status prints the latest recorded result for one account.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/ads"
	"github.com/Guizzs26/go-ads-sync/internal/app"
	"github.com/Guizzs26/go-ads-sync/internal/broker"
	"github.com/Guizzs26/go-ads-sync/internal/config"
	"github.com/Guizzs26/go-ads-sync/internal/db"
	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/Guizzs26/go-ads-sync/internal/processor"
	"github.com/Guizzs26/go-ads-sync/pkg/infra"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
)

type options struct {
	manager     string
	mode        string
	client      string
	daysBack    int
	entityTypes []string
	local       bool
	status      string
}

func main() {
	var opts options
	flag.StringVarP(&opts.manager, "manager", "m", "", "manager account id to sync from")
	flag.StringVar(&opts.mode, "mode", string(models.ModeIncremental), "full, incremental or single_account")
	flag.StringVarP(&opts.client, "client", "c", "", "client account id (single_account mode)")
	flag.IntVar(&opts.daysBack, "days-back", 0, "performance window length in days (full and single_account)")
	flag.StringSliceVar(&opts.entityTypes, "entity-types", nil, "entity types to sync (single_account mode)")
	flag.BoolVar(&opts.local, "local", false, "run the sync in this process instead of publishing a trigger")
	flag.StringVar(&opts.status, "status", "", "print the latest sync result for this account and exit")
	flag.Parse()

	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case opts.status != "":
		err = printStatus(ctx, cfg, opts.status, logger)
	case opts.local:
		err = runLocal(ctx, cfg, opts.request(), logger)
	default:
		err = publish(ctx, cfg, opts.request(), logger)
	}
	if err != nil {
		logger.Error("trigger failed", "error", err)
		os.Exit(1)
	}
}

func (o options) request() models.SyncRequest {
	return models.SyncRequest{
		CorrelationID:    "cli-" + uuid.NewString(),
		ManagerAccountID: o.manager,
		Mode:             models.Mode(o.mode),
		ClientAccountID:  o.client,
		DaysBack:         o.daysBack,
		EntityTypes:      o.entityTypes,
	}
}

func publish(ctx context.Context, cfg *config.Config, req models.SyncRequest, logger *slog.Logger) error {
	if req.ManagerAccountID == "" {
		return errors.New("--manager is required")
	}
	client, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	pubCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := client.PublishTrigger(pubCtx, req); err != nil {
		return err
	}
	logger.Info("Trigger published", "correlation_id", req.CorrelationID, "routing_key", broker.TriggerRoutingKey(req.Mode))
	return nil
}

func runLocal(ctx context.Context, cfg *config.Config, req models.SyncRequest, logger *slog.Logger) error {
	engine, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	summary, runErr := processor.NewTriggerHandler(engine.Orchestrator, nil, logger).Handle(ctx, req)
	if summary.RunID != uuid.Nil {
		if err := printJSON(summary); err != nil {
			return err
		}
	}
	return runErr
}

func printStatus(ctx context.Context, cfg *config.Config, rawID string, logger *slog.Logger) error {
	accountID, err := statusAccountID(rawID)
	if err != nil {
		return err
	}
	store, err := db.NewPostgresStore(ctx, cfg.DatabaseURL, 1, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.LatestAccountResult(ctx, accountID)
	if errors.Is(err, db.ErrNoResult) {
		return fmt.Errorf("no sync recorded for account %s", accountID)
	}
	if err != nil {
		return err
	}
	return printJSON(res)
}

// statusAccountID accepts the dashed display form as well as bare digits
func statusAccountID(raw string) (string, error) {
	id, ok := ads.NormalizeCustomerID(raw)
	if !ok {
		return "", fmt.Errorf("--status %q is not a 10 digit customer id", raw)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
