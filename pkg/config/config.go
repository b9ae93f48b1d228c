package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Razorpay     RazorpayConfig
	Shiprocket   ShiprocketConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Shiprocket.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"COVERCRAFT_APP_ENV" required:"true"`
	Port         string `envconfig:"COVERCRAFT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"COVERCRAFT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"COVERCRAFT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"COVERCRAFT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"COVERCRAFT_DB_DSN"`
	Driver string `envconfig:"COVERCRAFT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"COVERCRAFT_DB_HOST"`
	LegacyPort     int    `envconfig:"COVERCRAFT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"COVERCRAFT_DB_USER"`
	LegacyPassword string `envconfig:"COVERCRAFT_DB_PASSWORD"`
	LegacyName     string `envconfig:"COVERCRAFT_DB_NAME"`
	LegacySSLMode  string `envconfig:"COVERCRAFT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COVERCRAFT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COVERCRAFT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COVERCRAFT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COVERCRAFT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite driver is selected (local runs and tests).
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"COVERCRAFT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"COVERCRAFT_REDIS_ADDR"`
	Password     string        `envconfig:"COVERCRAFT_REDIS_PASSWORD"`
	DB           int           `envconfig:"COVERCRAFT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COVERCRAFT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COVERCRAFT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COVERCRAFT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COVERCRAFT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COVERCRAFT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig only verifies tokens; issuance belongs to the identity service.
type JWTConfig struct {
	Secret string `envconfig:"COVERCRAFT_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"COVERCRAFT_JWT_ISSUER" required:"true"`
}

type RateLimitConfig struct {
	GeneralRPS      float64       `envconfig:"COVERCRAFT_RATE_LIMIT_GENERAL_RPS" default:"10"`
	GeneralBurst    int           `envconfig:"COVERCRAFT_RATE_LIMIT_GENERAL_BURST" default:"20"`
	WebhookRPS      float64       `envconfig:"COVERCRAFT_RATE_LIMIT_WEBHOOK_RPS" default:"50"`
	WebhookBurst    int           `envconfig:"COVERCRAFT_RATE_LIMIT_WEBHOOK_BURST" default:"100"`
	VisitorTTL      time.Duration `envconfig:"COVERCRAFT_RATE_LIMIT_VISITOR_TTL" default:"3m"`
	VerifyWindow    time.Duration `envconfig:"COVERCRAFT_RATE_LIMIT_VERIFY_WINDOW" default:"1m"`
	VerifyUserLimit int           `envconfig:"COVERCRAFT_RATE_LIMIT_VERIFY_USER_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate       bool `envconfig:"COVERCRAFT_AUTO_MIGRATE" default:"false"`
	AutoFulfill       bool `envconfig:"COVERCRAFT_FEATURE_AUTO_FULFILL" default:"false"`
	AutoAssignCourier bool `envconfig:"COVERCRAFT_FEATURE_AUTO_ASSIGN_COURIER" default:"true"`
	AutoRequestPickup bool `envconfig:"COVERCRAFT_FEATURE_AUTO_REQUEST_PICKUP" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"COVERCRAFT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"COVERCRAFT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"COVERCRAFT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"COVERCRAFT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"COVERCRAFT_PUBSUB_ORDERS_TOPIC" default:"cc-order-events"`
	OrdersSubscription string `envconfig:"COVERCRAFT_PUBSUB_ORDERS_SUBSCRIPTION" default:"cc-order-events-fulfillment"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"COVERCRAFT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"COVERCRAFT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"COVERCRAFT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"COVERCRAFT_OUTBOX_RETENTION" default:"720h"`
}

type RazorpayConfig struct {
	KeyID         string        `envconfig:"COVERCRAFT_RAZORPAY_KEY_ID"`
	KeySecret     string        `envconfig:"COVERCRAFT_RAZORPAY_KEY_SECRET"`
	WebhookSecret string        `envconfig:"COVERCRAFT_RAZORPAY_WEBHOOK_SECRET"`
	BaseURL       string        `envconfig:"COVERCRAFT_RAZORPAY_BASE_URL" default:"https://api.razorpay.com"`
	Timeout       time.Duration `envconfig:"COVERCRAFT_RAZORPAY_TIMEOUT" default:"15s"`
	Currency      string        `envconfig:"COVERCRAFT_RAZORPAY_CURRENCY" default:"INR"`
}

type ShiprocketConfig struct {
	Email         string        `envconfig:"COVERCRAFT_SHIPROCKET_EMAIL"`
	Password      string        `envconfig:"COVERCRAFT_SHIPROCKET_PASSWORD"`
	BaseURL       string        `envconfig:"COVERCRAFT_SHIPROCKET_BASE_URL" default:"https://apiv2.shiprocket.in"`
	Timeout       time.Duration `envconfig:"COVERCRAFT_SHIPROCKET_TIMEOUT" default:"15s"`
	TokenTTL      time.Duration `envconfig:"COVERCRAFT_SHIPROCKET_TOKEN_TTL" default:"216h"`
	Webhook       string        `envconfig:"COVERCRAFT_SHIPROCKET_WEBHOOK_MODE" default:"header"`
	WebhookSecret string        `envconfig:"COVERCRAFT_SHIPROCKET_WEBHOOK_SECRET"`
	WebhookHeader string        `envconfig:"COVERCRAFT_SHIPROCKET_WEBHOOK_HEADER" default:"x-api-key"`

	PickupLocation      string  `envconfig:"COVERCRAFT_SHIPROCKET_PICKUP_LOCATION" default:"Primary"`
	StandardOrderPrefix string  `envconfig:"COVERCRAFT_SHIPROCKET_STANDARD_PREFIX" default:"ORD"`
	CustomOrderPrefix   string  `envconfig:"COVERCRAFT_SHIPROCKET_CUSTOM_PREFIX" default:"CUS"`
	PackageLengthCM     float64 `envconfig:"COVERCRAFT_SHIPROCKET_PACKAGE_LENGTH_CM" default:"15"`
	PackageBreadthCM    float64 `envconfig:"COVERCRAFT_SHIPROCKET_PACKAGE_BREADTH_CM" default:"10"`
	PackageHeightCM     float64 `envconfig:"COVERCRAFT_SHIPROCKET_PACKAGE_HEIGHT_CM" default:"2"`
	PackageWeightKG     float64 `envconfig:"COVERCRAFT_SHIPROCKET_PACKAGE_WEIGHT_KG" default:"0.2"`
}

// WebhookMode returns the normalized webhook authentication mode (header/hmac).
func (s ShiprocketConfig) WebhookMode() string {
	mode := strings.TrimSpace(strings.ToLower(s.Webhook))
	if mode == "" {
		return ShiprocketWebhookHeader
	}
	return mode
}

func (s ShiprocketConfig) validate() error {
	switch s.WebhookMode() {
	case ShiprocketWebhookHeader, ShiprocketWebhookHMAC:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvShiprocketWebhookMode, ShiprocketWebhookHeader, ShiprocketWebhookHMAC)
	}
	if strings.Contains(s.StandardOrderPrefix, "-") || strings.Contains(s.CustomOrderPrefix, "-") {
		return fmt.Errorf("shiprocket order prefixes must not contain '-'")
	}
	if strings.EqualFold(s.StandardOrderPrefix, s.CustomOrderPrefix) {
		return fmt.Errorf("shiprocket order prefixes must differ")
	}
	return nil
}

type CronConfig struct {
	Interval             time.Duration `envconfig:"COVERCRAFT_CRON_INTERVAL" default:"5m"`
	RefundMaxAttempts    int           `envconfig:"COVERCRAFT_CRON_REFUND_MAX_ATTEMPTS" default:"5"`
	RefundBatchSize      int           `envconfig:"COVERCRAFT_CRON_REFUND_BATCH_SIZE" default:"50"`
	TrackingSyncAge      time.Duration `envconfig:"COVERCRAFT_CRON_TRACKING_SYNC_AGE" default:"2h"`
	TrackingBatchSize    int           `envconfig:"COVERCRAFT_CRON_TRACKING_BATCH_SIZE" default:"100"`
	StalePendingAge      time.Duration `envconfig:"COVERCRAFT_CRON_STALE_PENDING_AGE" default:"72h"`
	ShipmentClaimTimeout time.Duration `envconfig:"COVERCRAFT_CRON_SHIPMENT_CLAIM_TIMEOUT" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:covercraft.db?cache=shared"
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
