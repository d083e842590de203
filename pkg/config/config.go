package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	RateLimit     RateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Settlement    SettlementConfig
	Commission    CommissionConfig
	Fulfillment   FulfillmentConfig
	Epay          EpayConfig
	Recharge      RechargeConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Commission.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SMMHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"SMMHUB_APP_PORT" required:"true"`
	PublicOrigin string `envconfig:"SMMHUB_PUBLIC_ORIGIN"`
	LogLevel     string `envconfig:"SMMHUB_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"SMMHUB_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"SMMHUB_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SMMHUB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SMMHUB_DB_DSN"`
	Driver string `envconfig:"SMMHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SMMHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"SMMHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SMMHUB_DB_USER"`
	LegacyPassword string `envconfig:"SMMHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"SMMHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"SMMHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SMMHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SMMHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SMMHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SMMHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"SMMHUB_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

// IsSQLite reports whether the sqlite dialector should be used instead of postgres.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"SMMHUB_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SMMHUB_REDIS_ADDR"`
	Password     string        `envconfig:"SMMHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"SMMHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SMMHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SMMHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SMMHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SMMHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SMMHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SMMHUB_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SMMHUB_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SMMHUB_JWT_EXPIRATION_MINUTES" required:"true"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"SMMHUB_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"SMMHUB_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"SMMHUB_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"SMMHUB_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"SMMHUB_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"SMMHUB_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"SMMHUB_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"SMMHUB_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"SMMHUB_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"SMMHUB_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"SMMHUB_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

// RateLimitConfig drives the in-process token bucket applied to authenticated routes.
type RateLimitConfig struct {
	RequestsPerMinute float64 `envconfig:"SMMHUB_RATE_LIMIT_RPM" default:"120"`
	Burst             int     `envconfig:"SMMHUB_RATE_LIMIT_BURST" default:"20"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SMMHUB_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SMMHUB_AUTO_MIGRATE" default:"false"`
}

type SettlementConfig struct {
	Currency string `envconfig:"SMMHUB_SETTLEMENT_CURRENCY" default:"USD"`
}

// CommissionConfig holds the fallback rates used when no per-level row is active.
type CommissionConfig struct {
	DefaultDirectRate   string `envconfig:"SMMHUB_COMMISSION_DEFAULT_DIRECT_RATE" default:"0.05"`
	DefaultIndirectRate string `envconfig:"SMMHUB_COMMISSION_DEFAULT_INDIRECT_RATE" default:"0.02"`
	MaxLevels           int    `envconfig:"SMMHUB_COMMISSION_MAX_LEVELS" default:"3"`
}

// DirectRate parses the configured fallback direct rate.
func (c CommissionConfig) DirectRate() decimal.Decimal {
	return parseRate(c.DefaultDirectRate, DefaultDirectCommissionRate)
}

// IndirectRate parses the configured fallback indirect rate.
func (c CommissionConfig) IndirectRate() decimal.Decimal {
	return parseRate(c.DefaultIndirectRate, DefaultIndirectCommissionRate)
}

func (c CommissionConfig) validate() error {
	for name, raw := range map[string]string{
		EnvCommissionDirectRate:   c.DefaultDirectRate,
		EnvCommissionIndirectRate: c.DefaultIndirectRate,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("%s must be within [0, 1)", name)
		}
	}
	if c.MaxLevels < 0 {
		return fmt.Errorf("%s must not be negative", EnvCommissionMaxLevels)
	}
	return nil
}

func parseRate(raw, fallback string) decimal.Decimal {
	if rate, err := decimal.NewFromString(strings.TrimSpace(raw)); err == nil {
		return rate
	}
	return decimal.RequireFromString(fallback)
}

// FulfillmentConfig points at the upstream SMM panel API.
type FulfillmentConfig struct {
	BaseURL string        `envconfig:"SMMHUB_FULFILLMENT_BASE_URL" default:"https://appfuwu.icu/api/v2"`
	APIKey  string        `envconfig:"SMMHUB_FULFILLMENT_API_KEY"`
	Timeout time.Duration `envconfig:"SMMHUB_FULFILLMENT_TIMEOUT" default:"30s"`
}

// EpayConfig configures the MD5-signed payment gateway used for recharges.
type EpayConfig struct {
	PID        string        `envconfig:"SMMHUB_EPAY_PID" default:"2208"`
	Key        string        `envconfig:"SMMHUB_EPAY_KEY"`
	APIURL     string        `envconfig:"SMMHUB_EPAY_API_URL" default:"https://futoon.org/mapi.php"`
	QueryURL   string        `envconfig:"SMMHUB_EPAY_QUERY_URL" default:"https://futoon.org/api.php"`
	NotifyPath string        `envconfig:"SMMHUB_EPAY_NOTIFY_PATH" default:"/api/v1/recharges/notify"`
	ReturnPath string        `envconfig:"SMMHUB_EPAY_RETURN_PATH" default:"/recharge"`
	Device     string        `envconfig:"SMMHUB_EPAY_DEVICE" default:"pc"`
	Timeout    time.Duration `envconfig:"SMMHUB_EPAY_TIMEOUT" default:"10s"`
}

type RechargeConfig struct {
	MinAmount      string        `envconfig:"SMMHUB_RECHARGE_MIN_AMOUNT" default:"100"`
	MaxAmount      string        `envconfig:"SMMHUB_RECHARGE_MAX_AMOUNT" default:"50000"`
	NotifyGuardTTL time.Duration `envconfig:"SMMHUB_RECHARGE_NOTIFY_GUARD_TTL" default:"72h"`
	ReconcileAfter time.Duration `envconfig:"SMMHUB_RECHARGE_RECONCILE_AFTER" default:"10m"`
	ExpireAfter    time.Duration `envconfig:"SMMHUB_RECHARGE_EXPIRE_AFTER" default:"24h"`
	ReconcileBatch int           `envconfig:"SMMHUB_RECHARGE_RECONCILE_BATCH" default:"100"`
}

// Limits returns the parsed recharge bounds.
func (r RechargeConfig) Limits() (decimal.Decimal, decimal.Decimal) {
	return parseRate(r.MinAmount, DefaultRechargeMin), parseRate(r.MaxAmount, DefaultRechargeMax)
}

type GCPConfig struct {
	ProjectID       string `envconfig:"SMMHUB_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"SMMHUB_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	LedgerTopic string `envconfig:"SMMHUB_PUBSUB_LEDGER_TOPIC" default:"smmhub-ledger-events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"SMMHUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"SMMHUB_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"SMMHUB_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"SMMHUB_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"SMMHUB_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"SMMHUB_CRON_LOCK_TTL" default:"10m"`
	// JobTimeout caps a single job; keep it under LockTTL so a slow job cannot
	// outlive the lock and overlap with another worker.
	JobTimeout time.Duration `envconfig:"SMMHUB_CRON_JOB_TIMEOUT" default:"4m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
