// Command reminders runs one overdue-installment reminder sweep and exits. It is meant for a
// scheduled job; the API exposes the same sweep at POST /api/v1/internal/payments/reminders:sweep.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/waypoint-immigration/portal/internal/di"
	"github.com/waypoint-immigration/portal/internal/platform/config"
	"github.com/waypoint-immigration/portal/internal/platform/observability"
)

func main() {
	asOfFlag := flag.String("as-of", "", "RFC3339 timestamp to evaluate due dates against (default: now)")
	timeout := flag.Duration("timeout", 5*time.Minute, "maximum duration of the sweep")
	flag.Parse()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("reminders")

	var asOf time.Time
	if *asOfFlag != "" {
		asOf, err = time.Parse(time.RFC3339, *asOfFlag)
		if err != nil {
			logger.Fatal("invalid --as-of", zap.String("value", *asOfFlag), zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, logger, asOf); err != nil {
		logger.Error("reminder sweep failed", zap.Error(err))
		_ = baseLogger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger, asOf time.Time) error {
	cfg, fetcher, err := di.LoadConfig(ctx, logger)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			return fmt.Errorf("missing secrets %v: %w", missing.RedactedNames(), err)
		}
		return err
	}
	defer fetcher.Close()

	registry, err := di.OpenRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	opts := []di.Option{di.WithLogger(logger)}
	publisher, err := di.OpenNotificationPublisher(ctx, cfg)
	if err != nil {
		_ = registry.Close(ctx)
		return err
	}
	if publisher != nil {
		opts = append(opts, di.WithNotificationPublisher(publisher))
		defer publisher.Close()
	}

	container, err := di.NewContainer(ctx, cfg, registry, opts...)
	if err != nil {
		_ = registry.Close(ctx)
		return err
	}
	defer container.Close(context.Background())

	result, err := container.Services.Payments.SendOverdueReminders(ctx, asOf)
	if err != nil {
		return err
	}
	logger.Info("reminder sweep complete",
		zap.Int("scanned", result.Scanned),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
	)
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d reminders failed", result.Failed, result.Scanned)
	}
	return nil
}
