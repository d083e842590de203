package config

const EnvPrefix = "SMMHUB"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv    = "SMMHUB_APP_ENV"
	EnvPort      = "SMMHUB_APP_PORT"
	EnvLogLevel  = "SMMHUB_LOG_LEVEL"
	EnvLogFormat = "SMMHUB_LOG_FORMAT"

	EnvDBDSN    = "SMMHUB_DB_DSN"
	EnvDBDriver = "SMMHUB_DB_DRIVER"
	EnvDBHost   = "SMMHUB_DB_HOST"
	EnvDBUser   = "SMMHUB_DB_USER"
	EnvDBName   = "SMMHUB_DB_NAME"

	EnvRedisURL = "SMMHUB_REDIS_URL"

	EnvJWTSecret  = "SMMHUB_JWT_SECRET"
	EnvJWTIssuer  = "SMMHUB_JWT_ISSUER"
	EnvJWTExpMins = "SMMHUB_JWT_EXPIRATION_MINUTES"

	EnvCommissionDirectRate   = "SMMHUB_COMMISSION_DEFAULT_DIRECT_RATE"
	EnvCommissionIndirectRate = "SMMHUB_COMMISSION_DEFAULT_INDIRECT_RATE"
	EnvCommissionMaxLevels    = "SMMHUB_COMMISSION_MAX_LEVELS"

	EnvFulfillmentBaseURL = "SMMHUB_FULFILLMENT_BASE_URL"
	EnvFulfillmentAPIKey  = "SMMHUB_FULFILLMENT_API_KEY"

	EnvEpayPID    = "SMMHUB_EPAY_PID"
	EnvEpayKey    = "SMMHUB_EPAY_KEY"
	EnvEpayAPIURL = "SMMHUB_EPAY_API_URL"

	EnvRechargeMin = "SMMHUB_RECHARGE_MIN_AMOUNT"
	EnvRechargeMax = "SMMHUB_RECHARGE_MAX_AMOUNT"

	EnvGCPProjectID      = "SMMHUB_GCP_PROJECT_ID"
	EnvPubSubLedgerTopic = "SMMHUB_PUBSUB_LEDGER_TOPIC"
	EnvOutboxMaxAttempts = "SMMHUB_OUTBOX_MAX_ATTEMPTS"
)

const (
	DefaultDirectCommissionRate   = "0.05"
	DefaultIndirectCommissionRate = "0.02"
	DefaultRechargeMin            = "100"
	DefaultRechargeMax            = "50000"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
