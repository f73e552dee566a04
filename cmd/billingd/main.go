// Command billingd runs the subscription reconciliation daemon.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/seatledger/pkg/clientip"
	"github.com/dmitrymomot/seatledger/pkg/logger"
	"github.com/dmitrymomot/seatledger/pkg/requestid"
	"github.com/dmitrymomot/seatledger/svc/billing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Default().ErrorContext(ctx, "billingd failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := billing.LoadConfig()
	if err != nil {
		return err
	}

	log := logger.New(
		logger.WithEnvironment(cfg.AppEnv, cfg.ServiceName),
		logger.WithLevelName(cfg.LogLevel),
		logger.WithContextExtractors(requestid.LoggerExtractor(), clientip.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	app, err := billing.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "billingd starting",
		slog.String("store", cfg.Store),
		slog.String("lock", cfg.Lock),
		slog.Any("channels", app.Service.Channels()),
	)
	return app.Run(ctx)
}
