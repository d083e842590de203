package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/smmhub-backend/internal/cron"
	"github.com/angelmondragon/smmhub-backend/internal/ledger"
	"github.com/angelmondragon/smmhub-backend/internal/recharge"
	"github.com/angelmondragon/smmhub-backend/pkg/config"
	"github.com/angelmondragon/smmhub-backend/pkg/db"
	"github.com/angelmondragon/smmhub-backend/pkg/epay"
	"github.com/angelmondragon/smmhub-backend/pkg/idempotency"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
	"github.com/angelmondragon/smmhub-backend/pkg/metrics"
	"github.com/angelmondragon/smmhub-backend/pkg/migrate"
	"github.com/angelmondragon/smmhub-backend/pkg/outbox"
	"github.com/angelmondragon/smmhub-backend/pkg/redis"
)

const (
	serviceName = "cron-worker"
	lockName    = "cron-worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(ctx, "cron worker exited", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceName

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": cfg.Service.Kind})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWith(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeWith(ctx, logg, "redis", redisClient.Close)

	jobMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)

	lock, err := cron.NewRedisLock(redisClient, lockName, cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	if cfg.Cron.JobTimeout >= cfg.Cron.LockTTL {
		logg.Warn(ctx, "cron job timeout is not below the lock ttl; a slow job may overlap another worker")
	}

	rechargeService, err := buildRechargeService(cfg, logg, dbClient, redisClient, settlementMetrics)
	if err != nil {
		return fmt.Errorf("recharge service: %w", err)
	}
	reconcileJob, err := cron.NewRechargeReconcileJob(cron.RechargeReconcileJobParams{
		Logger:     logg,
		Reconciler: rechargeService,
		OlderThan:  cfg.Recharge.ReconcileAfter,
	})
	if err != nil {
		return fmt.Errorf("recharge reconcile job: %w", err)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return fmt.Errorf("outbox retention job: %w", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   cron.NewRegistry(reconcileJob, retentionJob),
		Lock:       lock,
		Metrics:    jobMetrics,
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	logg.Info(ctx, "cron worker starting")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker stopped")
	return nil
}

func closeWith(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "closing "+name, err)
	}
}

// buildRechargeService wires the same recharge service the api uses so the
// reconcile job credits through the identical code path as the notify callback.
func buildRechargeService(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	settlementMetrics *metrics.SettlementMetrics,
) (recharge.Service, error) {
	conn := dbClient.DB()
	ledgerService, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	gateway, err := epay.NewClient(cfg.Epay.PID, cfg.Epay.Key,
		epay.WithAPIURL(cfg.Epay.APIURL),
		epay.WithQueryURL(cfg.Epay.QueryURL),
		epay.WithDevice(cfg.Epay.Device),
		epay.WithTimeout(cfg.Epay.Timeout),
	)
	if err != nil {
		return nil, err
	}
	guard, err := idempotency.NewGuard(redisClient, cfg.Recharge.NotifyGuardTTL)
	if err != nil {
		return nil, err
	}
	minAmount, maxAmount := cfg.Recharge.Limits()
	return recharge.NewService(recharge.ServiceParams{
		Tx:          dbClient,
		Repo:        recharge.NewRepository(conn),
		Ledger:      ledgerService,
		Gateway:     gateway,
		Verifier:    gateway.Signer(),
		Guard:       guard,
		Outbox:      outbox.NewService(outbox.NewRepository(conn), logg),
		Metrics:     settlementMetrics,
		Logger:      logg,
		MinAmount:   minAmount,
		MaxAmount:   maxAmount,
		NotifyPath:  cfg.Epay.NotifyPath,
		ReturnPath:  cfg.Epay.ReturnPath,
		ExpireAfter: cfg.Recharge.ExpireAfter,
		BatchSize:   cfg.Recharge.ReconcileBatch,
	})
}
