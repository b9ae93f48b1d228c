package config

const (
	EnvPrefix = "COVERCRAFT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	ShiprocketWebhookHeader = "header"
	ShiprocketWebhookHMAC   = "hmac"
)

const (
	EnvAppEnv   = "COVERCRAFT_APP_ENV"
	EnvPort     = "COVERCRAFT_APP_PORT"
	EnvLogLevel = "COVERCRAFT_LOG_LEVEL"

	EnvDBDSN    = "COVERCRAFT_DB_DSN"
	EnvDBDriver = "COVERCRAFT_DB_DRIVER"
	EnvDBHost   = "COVERCRAFT_DB_HOST"
	EnvDBUser   = "COVERCRAFT_DB_USER"
	EnvDBName   = "COVERCRAFT_DB_NAME"

	EnvRedisURL = "COVERCRAFT_REDIS_URL"

	EnvJWTSecret = "COVERCRAFT_JWT_SECRET"
	EnvJWTIssuer = "COVERCRAFT_JWT_ISSUER"

	EnvGCPProjectID       = "COVERCRAFT_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic  = "COVERCRAFT_PUBSUB_ORDERS_TOPIC"
	EnvPubSubOrdersSub    = "COVERCRAFT_PUBSUB_ORDERS_SUBSCRIPTION"
	EnvAutoFulfill        = "COVERCRAFT_FEATURE_AUTO_FULFILL"
	EnvRazorpayKeyID      = "COVERCRAFT_RAZORPAY_KEY_ID"
	EnvRazorpayKeySecret  = "COVERCRAFT_RAZORPAY_KEY_SECRET"
	EnvRazorpayWebhookKey = "COVERCRAFT_RAZORPAY_WEBHOOK_SECRET"

	EnvShiprocketEmail       = "COVERCRAFT_SHIPROCKET_EMAIL"
	EnvShiprocketPassword    = "COVERCRAFT_SHIPROCKET_PASSWORD"
	EnvShiprocketWebhookMode = "COVERCRAFT_SHIPROCKET_WEBHOOK_MODE"
	EnvShiprocketTokenTTL    = "COVERCRAFT_SHIPROCKET_TOKEN_TTL"
	EnvShiprocketCustomPref  = "COVERCRAFT_SHIPROCKET_CUSTOM_PREFIX"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
