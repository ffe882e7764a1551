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
	Ledger       LedgerConfig
	Metering     MeteringConfig
	Vendor       VendorConfig
	Pricing      PricingConfig
	Allowance    AllowanceConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Metering.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SCRIBEFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"SCRIBEFLOW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SCRIBEFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SCRIBEFLOW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SCRIBEFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SCRIBEFLOW_DB_DSN"`
	Driver string `envconfig:"SCRIBEFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SCRIBEFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"SCRIBEFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SCRIBEFLOW_DB_USER"`
	LegacyPassword string `envconfig:"SCRIBEFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"SCRIBEFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"SCRIBEFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SCRIBEFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SCRIBEFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SCRIBEFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SCRIBEFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SCRIBEFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SCRIBEFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"SCRIBEFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"SCRIBEFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SCRIBEFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SCRIBEFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SCRIBEFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SCRIBEFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SCRIBEFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SCRIBEFLOW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SCRIBEFLOW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SCRIBEFLOW_JWT_EXPIRATION_MINUTES" default:"60"`
}

// RateLimitConfig throttles the authenticated API with a fixed window per
// user. Zero on either field disables the limiter.
type RateLimitConfig struct {
	Window       time.Duration `envconfig:"SCRIBEFLOW_RATE_LIMIT_WINDOW" default:"1m"`
	PerUserLimit int           `envconfig:"SCRIBEFLOW_RATE_LIMIT_PER_USER" default:"240"`
}

// LedgerConfig tunes the transactional core. Lock and statement timeouts
// apply inside every debit/grant/reverse transaction on Postgres.
type LedgerConfig struct {
	LockTimeout      time.Duration `envconfig:"SCRIBEFLOW_LEDGER_LOCK_TIMEOUT" default:"5s"`
	StatementTimeout time.Duration `envconfig:"SCRIBEFLOW_LEDGER_STATEMENT_TIMEOUT" default:"10s"`
	ConflictRetries  int           `envconfig:"SCRIBEFLOW_LEDGER_CONFLICT_RETRIES" default:"1"`
}

// MeteringConfig shapes the pre-flight estimator. SafetyMarginPct must stay
// at or above the 10% floor so estimates never undershoot real charges.
type MeteringConfig struct {
	SafetyMarginPct      int   `envconfig:"SCRIBEFLOW_METERING_SAFETY_MARGIN_PCT" default:"15"`
	DefaultOutputCeiling int64 `envconfig:"SCRIBEFLOW_METERING_DEFAULT_OUTPUT_CEILING" default:"4096"`
}

const minSafetyMarginPct = 10

func (m MeteringConfig) validate() error {
	if m.SafetyMarginPct < minSafetyMarginPct {
		return fmt.Errorf("metering safety margin must be at least %d%%, got %d%%", minSafetyMarginPct, m.SafetyMarginPct)
	}
	if m.DefaultOutputCeiling <= 0 {
		return fmt.Errorf("metering default output ceiling must be positive, got %d", m.DefaultOutputCeiling)
	}
	return nil
}

// VendorConfig points the metering proxy at the upstream inference vendors.
// A vendor without an API key is treated as not configured and requests for
// it are refused before any network call.
type VendorConfig struct {
	OpenAIBaseURL    string        `envconfig:"SCRIBEFLOW_VENDOR_OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIAPIKey     string        `envconfig:"SCRIBEFLOW_VENDOR_OPENAI_API_KEY"`
	AnthropicBaseURL string        `envconfig:"SCRIBEFLOW_VENDOR_ANTHROPIC_BASE_URL" default:"https://api.anthropic.com"`
	AnthropicAPIKey  string        `envconfig:"SCRIBEFLOW_VENDOR_ANTHROPIC_API_KEY"`
	AnthropicVersion string        `envconfig:"SCRIBEFLOW_VENDOR_ANTHROPIC_VERSION" default:"2023-06-01"`
	GoogleBaseURL    string        `envconfig:"SCRIBEFLOW_VENDOR_GOOGLE_BASE_URL" default:"https://generativelanguage.googleapis.com"`
	GoogleAPIKey     string        `envconfig:"SCRIBEFLOW_VENDOR_GOOGLE_API_KEY"`
	RequestTimeout   time.Duration `envconfig:"SCRIBEFLOW_VENDOR_REQUEST_TIMEOUT" default:"60s"`
}

type PricingConfig struct {
	CacheTTL time.Duration `envconfig:"SCRIBEFLOW_PRICING_CACHE_TTL" default:"60s"`
}

// AllowanceConfig carries per-tier monthly credit grants (1 credit = $0.01).
type AllowanceConfig struct {
	FreeMonthlyCredits    int64 `envconfig:"SCRIBEFLOW_ALLOWANCE_FREE_CREDITS" default:"500"`
	ProMonthlyCredits     int64 `envconfig:"SCRIBEFLOW_ALLOWANCE_PRO_CREDITS" default:"5000"`
	PremiumMonthlyCredits int64 `envconfig:"SCRIBEFLOW_ALLOWANCE_PREMIUM_CREDITS" default:"15000"`
	BatchSize             int   `envconfig:"SCRIBEFLOW_ALLOWANCE_BATCH_SIZE" default:"200"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SCRIBEFLOW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SCRIBEFLOW_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SCRIBEFLOW_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SCRIBEFLOW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SCRIBEFLOW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	CreditEventsTopic        string `envconfig:"SCRIBEFLOW_PUBSUB_CREDIT_EVENTS_TOPIC" default:"sf-credit-events"`
	CreditEventsSubscription string `envconfig:"SCRIBEFLOW_PUBSUB_CREDIT_EVENTS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SCRIBEFLOW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SCRIBEFLOW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SCRIBEFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
