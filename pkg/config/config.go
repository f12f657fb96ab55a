package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/pkg/env"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Gateway      GatewayConfig
	Jobs         JobsConfig
	Coins        CoinsConfig
	Cache        CacheConfig
	HTTP         HTTPConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(env.Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Coins.Value(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ORDERFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"ORDERFLOW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ORDERFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERFLOW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// HTTPConfig covers API edge policy.
type HTTPConfig struct {
	CORSOrigins     []string      `envconfig:"ORDERFLOW_CORS_ORIGINS" default:"http://localhost:3000"`
	RateLimitWindow time.Duration `envconfig:"ORDERFLOW_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitUser   int           `envconfig:"ORDERFLOW_RATE_LIMIT_USER" default:"30"`
	RateLimitIP     int           `envconfig:"ORDERFLOW_RATE_LIMIT_IP" default:"120"`

	// IdempotencyTTL is how long a replayable response is kept; money-moving
	// routes keep theirs for IdempotencyCriticalTTL.
	IdempotencyTTL         time.Duration `envconfig:"ORDERFLOW_IDEMPOTENCY_TTL" default:"24h"`
	IdempotencyCriticalTTL time.Duration `envconfig:"ORDERFLOW_IDEMPOTENCY_CRITICAL_TTL" default:"168h"`
	IdempotencyLockTTL     time.Duration `envconfig:"ORDERFLOW_IDEMPOTENCY_LOCK_TTL" default:"30s"`
}

type ServiceConfig struct {
	Kind string `envconfig:"ORDERFLOW_SERVICE_KIND" default:"api"`
	// MetricsAddr is where workers serve /metrics and /healthz; empty
	// disables the listener.
	MetricsAddr string `envconfig:"ORDERFLOW_METRICS_ADDR" default:":9090"`
}

type DBConfig struct {
	DSN    string `envconfig:"ORDERFLOW_DB_DSN"`
	Driver string `envconfig:"ORDERFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ORDERFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"ORDERFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ORDERFLOW_DB_USER"`
	LegacyPassword string `envconfig:"ORDERFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"ORDERFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"ORDERFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORDERFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"ORDERFLOW_DB_SLOW_QUERY" default:"250ms"`
}

// IsSQLite reports whether the sqlite driver was selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), "sqlite")
}

type RedisConfig struct {
	URL          string        `envconfig:"ORDERFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ORDERFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"ORDERFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORDERFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORDERFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORDERFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORDERFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ORDERFLOW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ORDERFLOW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ORDERFLOW_JWT_EXPIRATION_MINUTES" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ORDERFLOW_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ORDERFLOW_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"ORDERFLOW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ORDERFLOW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"ORDERFLOW_PUBSUB_ORDERS_TOPIC" required:"true"`
	OrdersSubscription string `envconfig:"ORDERFLOW_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	PaymentsTopic      string `envconfig:"ORDERFLOW_PUBSUB_PAYMENTS_TOPIC" default:"of-payment-events"`
	NotificationsTopic string `envconfig:"ORDERFLOW_PUBSUB_NOTIFICATIONS_TOPIC"`
}

type BigQueryConfig struct {
	Dataset     string `envconfig:"ORDERFLOW_BIGQUERY_DATASET" default:"orderflow"`
	EventsTable string `envconfig:"ORDERFLOW_BIGQUERY_EVENTS_TABLE" default:"order_events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ORDERFLOW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ORDERFLOW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ORDERFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`

	// IdempotencyTTL bounds how long consumers remember an event id.
	IdempotencyTTL time.Duration `envconfig:"ORDERFLOW_OUTBOX_IDEMPOTENCY_TTL" default:"72h"`
}

type GatewayConfig struct {
	BaseURL       string        `envconfig:"ORDERFLOW_GATEWAY_BASE_URL" required:"true"`
	APIKey        string        `envconfig:"ORDERFLOW_GATEWAY_API_KEY" required:"true"`
	ClientSecret  string        `envconfig:"ORDERFLOW_GATEWAY_CLIENT_SECRET" required:"true"`
	WebhookSecret string        `envconfig:"ORDERFLOW_GATEWAY_WEBHOOK_SECRET" required:"true"`
	Timeout       time.Duration `envconfig:"ORDERFLOW_GATEWAY_TIMEOUT" default:"10s"`
	Provider      string        `envconfig:"ORDERFLOW_GATEWAY_PROVIDER" default:"gateway"`
	Currency      string        `envconfig:"ORDERFLOW_GATEWAY_CURRENCY" default:"INR"`
	WebhookDedupe time.Duration `envconfig:"ORDERFLOW_GATEWAY_WEBHOOK_DEDUPE_TTL" default:"72h"`
}

type JobsConfig struct {
	PollInterval      time.Duration `envconfig:"ORDERFLOW_JOBS_POLL_INTERVAL" default:"1s"`
	RetentionDays     int           `envconfig:"ORDERFLOW_JOBS_RETENTION_DAYS" default:"7"`
	AnalyticsBatch    int           `envconfig:"ORDERFLOW_JOBS_ANALYTICS_BATCH" default:"50"`
	AnalyticsFlush    time.Duration `envconfig:"ORDERFLOW_JOBS_ANALYTICS_FLUSH" default:"10s"`
	CronSchedule      string        `envconfig:"ORDERFLOW_CRON_SCHEDULE" default:"*/5 * * * *"`
	CleanupSchedule   string        `envconfig:"ORDERFLOW_CRON_CLEANUP_SCHEDULE" default:"30 3 * * *"`
	PendingPaymentTTL time.Duration `envconfig:"ORDERFLOW_PENDING_PAYMENT_TTL" default:"2h"`
	ReconcileGrace    time.Duration `envconfig:"ORDERFLOW_RECONCILE_GRACE" default:"10m"`
	ReconcileLookback time.Duration `envconfig:"ORDERFLOW_RECONCILE_LOOKBACK" default:"72h"`
	SweepLimit        int           `envconfig:"ORDERFLOW_SWEEP_LIMIT" default:"200"`
}

type CoinsConfig struct {
	// ValuePerCoin is the currency value of one coin in major units.
	ValuePerCoin string `envconfig:"ORDERFLOW_COIN_VALUE" default:"1"`
}

// Value parses the configured coin value.
func (c CoinsConfig) Value() (decimal.Decimal, error) {
	raw := strings.TrimSpace(c.ValuePerCoin)
	if raw == "" {
		return decimal.NewFromInt(1), nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", EnvCoinValue, raw, err)
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", EnvCoinValue)
	}
	return value, nil
}

type CacheConfig struct {
	LocalTTL time.Duration `envconfig:"ORDERFLOW_CACHE_LOCAL_TTL" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file::memory:?cache=shared"
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
