package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/smmhub-backend/api/controllers"
	"github.com/angelmondragon/smmhub-backend/api/middleware"
	"github.com/angelmondragon/smmhub-backend/internal/auth"
	"github.com/angelmondragon/smmhub-backend/internal/catalog"
	"github.com/angelmondragon/smmhub-backend/internal/commission"
	"github.com/angelmondragon/smmhub-backend/internal/ledger"
	"github.com/angelmondragon/smmhub-backend/internal/recharge"
	"github.com/angelmondragon/smmhub-backend/internal/referral"
	"github.com/angelmondragon/smmhub-backend/internal/settlement"
	"github.com/angelmondragon/smmhub-backend/internal/users"
	"github.com/angelmondragon/smmhub-backend/pkg/config"
	"github.com/angelmondragon/smmhub-backend/pkg/logger"
	"github.com/angelmondragon/smmhub-backend/pkg/metrics"
	"github.com/angelmondragon/smmhub-backend/pkg/redis"
)

// RouterParams carries every service the HTTP surface depends on. Nil services
// make their endpoints answer with an internal error instead of panicking.
type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       *redis.Client
	Gatherer    prometheus.Gatherer
	Auth        auth.Service
	Register    auth.RegisterService
	Users       users.Service
	Ledger      ledger.Service
	Referral    referral.Graph
	Commission  commission.Service
	Catalog     catalog.Service
	Settlement  settlement.Service
	Recharge    recharge.Service
	Provider    controllers.ProviderReader
	RateLimiter *middleware.ClientRateLimiter
	HTTPMetrics *metrics.HTTPMetrics
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	// typed nil pointers must not reach the interface-typed middleware stores
	var (
		idemStore middleware.IdempotencyStore
		rateStore middleware.FixedWindowLimiter
		readyDeps = map[string]controllers.Pinger{"db": p.DB}
	)
	if p.Redis != nil {
		idemStore = p.Redis
		rateStore = p.Redis
		readyDeps["redis"] = p.Redis
	}
	limiter := p.RateLimiter
	if limiter == nil {
		limiter = middleware.NewClientRateLimiter(cfg.RateLimit)
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.HTTPMetrics),
		middleware.CORS(cfg.App.PublicOrigin),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readyDeps))
	})
	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(middleware.AuthRateLimit(loginPolicy, rateStore, logg)).Post("/login", controllers.AuthLogin(p.Auth, logg))
			r.With(middleware.AuthRateLimit(registerPolicy, rateStore, logg)).Post("/register", controllers.AuthRegister(p.Register, p.Auth, logg))
		})

		// gateway callbacks carry their own signature instead of a bearer token
		r.With(middleware.RateLimit(limiter, logg)).HandleFunc("/recharges/notify", controllers.RechargeNotify(p.Recharge, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RateLimit(limiter, logg))
			r.Use(middleware.Idempotency(idemStore, logg))

			r.Get("/services", controllers.ListServices(p.Catalog, logg))
			r.Get("/balance", controllers.Balance(p.Ledger, logg))

			r.Post("/orders", controllers.SubmitOrder(p.Settlement, logg))
			r.Get("/orders", controllers.ListOrders(p.Settlement, logg))
			r.Get("/orders/{orderId}", controllers.OrderDetail(p.Settlement, logg))

			r.Post("/recharges", controllers.CreateRecharge(p.Recharge, cfg.App.PublicOrigin, logg))
			r.Get("/recharges", controllers.RechargeHistory(p.Recharge, logg))

			r.Route("/agent", func(r chi.Router) {
				r.Use(middleware.RequireAgent(logg))
				r.Get("/stats", controllers.AgentStats(p.Commission, logg))
				r.Get("/invitees", controllers.AgentInvitees(p.Referral, logg))
				r.Get("/commissions", controllers.AgentCommissions(p.Commission, logg))
				r.Get("/tree", controllers.AgentTree(p.Referral, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireAdmin(logg))
		r.Use(middleware.RateLimit(limiter, logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Get("/commission-configs", controllers.AdminListCommissionConfigs(p.Commission, logg))
		r.Put("/commission-configs", controllers.AdminUpsertCommissionConfig(p.Commission, logg))

		r.Get("/commissions", controllers.AdminListCommissions(p.Commission, logg))
		r.Post("/commissions/{commissionId}/pay", controllers.AdminPayCommission(p.Commission, logg))
		r.Post("/commissions/{commissionId}/cancel", controllers.AdminCancelCommission(p.Commission, logg))

		r.Post("/agents", controllers.AdminSetAgent(p.Users, logg))
		r.Get("/member-levels", controllers.AdminMemberLevels(p.Settlement, logg))

		r.Route("/users/{userId}", func(r chi.Router) {
			r.Post("/level", controllers.AdminSetMemberLevel(p.Users, logg))
			r.Post("/balance", controllers.AdminAdjustBalance(p.Users, logg))
			r.Get("/reconcile", controllers.AdminReconcileBalance(p.Ledger, logg))
		})

		r.Put("/services", controllers.AdminUpsertService(p.Catalog, logg))
		r.Post("/services/sync", controllers.AdminSyncServices(p.Catalog, logg))
		r.Get("/services/profit", controllers.AdminProfitReport(p.Catalog, logg))

		r.Route("/provider", func(r chi.Router) {
			r.Get("/balance", controllers.AdminProviderBalance(p.Provider, logg))
			r.Get("/orders/{externalOrderId}", controllers.AdminProviderOrderStatus(p.Provider, logg))
		})
	})

	return r
}
