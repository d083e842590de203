package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/smmhub-backend/api/middleware"
	"github.com/angelmondragon/smmhub-backend/api/routes"
	"github.com/angelmondragon/smmhub-backend/internal/auth"
	"github.com/angelmondragon/smmhub-backend/internal/catalog"
	"github.com/angelmondragon/smmhub-backend/internal/commission"
	"github.com/angelmondragon/smmhub-backend/internal/ledger"
	"github.com/angelmondragon/smmhub-backend/internal/recharge"
	"github.com/angelmondragon/smmhub-backend/internal/referral"
	"github.com/angelmondragon/smmhub-backend/internal/settlement"
	"github.com/angelmondragon/smmhub-backend/internal/users"
	"github.com/angelmondragon/smmhub-backend/pkg/config"
	"github.com/angelmondragon/smmhub-backend/pkg/db"
	"github.com/angelmondragon/smmhub-backend/pkg/enums"
	"github.com/angelmondragon/smmhub-backend/pkg/epay"
	"github.com/angelmondragon/smmhub-backend/pkg/idempotency"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
	"github.com/angelmondragon/smmhub-backend/pkg/metrics"
	"github.com/angelmondragon/smmhub-backend/pkg/migrate"
	"github.com/angelmondragon/smmhub-backend/pkg/outbox"
	"github.com/angelmondragon/smmhub-backend/pkg/redis"
	"github.com/angelmondragon/smmhub-backend/pkg/smmapi"
)

const (
	serviceName       = "api"
	readHeaderTimeout = 10 * time.Second
	shutdownGrace     = 20 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(ctx, "api exited", err)
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	params, err := buildRouterParams(cfg, logg, dbClient, redisClient, metrics.NewSettlementMetrics(registry))
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	params.Gatherer = registry
	params.HTTPMetrics = metrics.NewHTTPMetrics(registry)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           routes.NewRouter(params),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "addr": server.Addr, "serviceKind": cfg.Service.Kind})

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "api server listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// drain in-flight settlements before the deferred closes run
	logg.Info(ctx, "api server draining")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logg.Info(ctx, "api server stopped")
	return nil
}

func closeWith(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "closing "+name, err)
	}
}

func buildRouterParams(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	settlementMetrics *metrics.SettlementMetrics,
) (routes.RouterParams, error) {
	conn := dbClient.DB()
	userRepo := users.NewRepository(conn)
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)

	ledgerService, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return routes.RouterParams{}, err
	}
	graph, err := referral.NewGraph(referral.NewRepository(conn))
	if err != nil {
		return routes.RouterParams{}, err
	}

	commissionRepo := commission.NewRepository(conn)
	engine, err := commission.NewEngine(commission.EngineParams{
		Tx:       dbClient,
		Repo:     commissionRepo,
		Graph:    graph,
		Ledger:   ledgerService,
		Defaults: commission.DefaultsFromConfig(cfg.Commission),
		Metrics:  settlementMetrics,
		Logger:   logg,
	})
	if err != nil {
		return routes.RouterParams{}, err
	}
	commissionService, err := commission.NewService(commissionRepo, graph, userRepo)
	if err != nil {
		return routes.RouterParams{}, err
	}

	var panel *smmapi.Client
	if cfg.Fulfillment.APIKey != "" {
		panel, err = smmapi.NewClient(cfg.Fulfillment.APIKey,
			smmapi.WithBaseURL(cfg.Fulfillment.BaseURL),
			smmapi.WithTimeout(cfg.Fulfillment.Timeout),
		)
		if err != nil {
			return routes.RouterParams{}, err
		}
	} else {
		logg.Warn(context.Background(), "fulfillment api key not set, orders will be rejected")
	}

	catalogService, err := catalog.NewService(catalog.NewRepository(conn), panel, logg)
	if err != nil {
		return routes.RouterParams{}, err
	}

	settlementService, err := settlement.NewService(settlement.ServiceParams{
		Tx:                 dbClient,
		Repo:               settlement.NewRepository(conn),
		Catalog:            catalogService,
		Ledger:             ledgerService,
		Commission:         engine,
		Fulfillment:        panel,
		Outbox:             outboxService,
		Metrics:            settlementMetrics,
		Logger:             logg,
		FulfillmentTimeout: cfg.Fulfillment.Timeout,
		Currency:           enums.Currency(cfg.Settlement.Currency),
	})
	if err != nil {
		return routes.RouterParams{}, err
	}

	gateway, err := epay.NewClient(cfg.Epay.PID, cfg.Epay.Key,
		epay.WithAPIURL(cfg.Epay.APIURL),
		epay.WithQueryURL(cfg.Epay.QueryURL),
		epay.WithDevice(cfg.Epay.Device),
		epay.WithTimeout(cfg.Epay.Timeout),
	)
	if err != nil {
		return routes.RouterParams{}, err
	}
	notifyGuard, err := idempotency.NewGuard(redisClient, cfg.Recharge.NotifyGuardTTL)
	if err != nil {
		return routes.RouterParams{}, err
	}
	minAmount, maxAmount := cfg.Recharge.Limits()
	rechargeService, err := recharge.NewService(recharge.ServiceParams{
		Tx:          dbClient,
		Repo:        recharge.NewRepository(conn),
		Ledger:      ledgerService,
		Gateway:     gateway,
		Verifier:    gateway.Signer(),
		Guard:       notifyGuard,
		Outbox:      outboxService,
		Metrics:     settlementMetrics,
		Logger:      logg,
		MinAmount:   minAmount,
		MaxAmount:   maxAmount,
		NotifyPath:  cfg.Epay.NotifyPath,
		ReturnPath:  cfg.Epay.ReturnPath,
		ExpireAfter: cfg.Recharge.ExpireAfter,
		BatchSize:   cfg.Recharge.ReconcileBatch,
	})
	if err != nil {
		return routes.RouterParams{}, err
	}

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       userRepo,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
		Logger:         logg,
	})
	if err != nil {
		return routes.RouterParams{}, err
	}
	registerService, err := auth.NewRegisterService(auth.RegisterServiceParams{
		TxRunner:       dbClient,
		Referral:       graph,
		PasswordConfig: cfg.Password,
		Logger:         logg,
	})
	if err != nil {
		return routes.RouterParams{}, err
	}

	usersService, err := users.NewService(users.ServiceParams{
		DB:       conn,
		Tx:       dbClient,
		Referral: graph,
		Levels:   settlementService,
		Ledger:   ledgerService,
		Outbox:   outboxService,
		Logger:   logg,
	})
	if err != nil {
		return routes.RouterParams{}, err
	}

	params := routes.RouterParams{
		Config:      cfg,
		Logger:      logg,
		DB:          dbClient,
		Redis:       redisClient,
		Auth:        authService,
		Register:    registerService,
		Users:       usersService,
		Ledger:      ledgerService,
		Referral:    graph,
		Commission:  commissionService,
		Catalog:     catalogService,
		Settlement:  settlementService,
		Recharge:    rechargeService,
		RateLimiter: middleware.NewClientRateLimiter(cfg.RateLimit),
	}
	if panel != nil {
		params.Provider = panel
	}
	return params, nil
}
