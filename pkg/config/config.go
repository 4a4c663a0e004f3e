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
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Frontend     FrontendConfig
	VNPay        VNPayConfig
	Square       SquareConfig
	Wallet       WalletConfig
	Settlement   SettlementConfig
	Inventory    InventoryConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Telemetry    TelemetryConfig
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
	if err := cfg.Wallet.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"STOREFRONT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOREFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREFRONT_DB_USER"`
	LegacyPassword string `envconfig:"STOREFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this; zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"STOREFRONT_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the verification settings for bearer tokens. Tokens are
// issued by the identity service; this service only validates them.
type JWTConfig struct {
	Secret string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"STOREFRONT_IDEMPOTENCY_TTL" default:"24h"`
}

type FrontendConfig struct {
	BaseURL string `envconfig:"STOREFRONT_FRONTEND_URL" required:"true"`
}

// OrderURL returns the storefront page the gateway return flow redirects to.
func (f FrontendConfig) OrderURL(orderID string) string {
	return strings.TrimRight(f.BaseURL, "/") + "/order/" + orderID
}

// VNPayConfig carries the redirect gateway merchant settings.
type VNPayConfig struct {
	TmnCode    string `envconfig:"STOREFRONT_VNPAY_TMN_CODE" required:"true"`
	HashSecret string `envconfig:"STOREFRONT_VNPAY_HASH_SECRET" required:"true"`
	PaymentURL string `envconfig:"STOREFRONT_VNPAY_URL" default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	ReturnURL  string `envconfig:"STOREFRONT_VNPAY_RETURN_URL" required:"true"`
	BankCode   string `envconfig:"STOREFRONT_VNPAY_BANK_CODE" default:"NCB"`
	Locale     string `envconfig:"STOREFRONT_VNPAY_LOCALE" default:"vn"`
	TimeZone   string `envconfig:"STOREFRONT_VNPAY_TIMEZONE" default:"Asia/Ho_Chi_Minh"`
}

type SquareConfig struct {
	AccessToken string `envconfig:"STOREFRONT_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"STOREFRONT_SQUARE_ENV" default:"sandbox"`
}

// WalletConfig controls how wallet-channel amounts are compared with the
// order total, which is stored in the storefront currency.
type WalletConfig struct {
	ExchangeRate  string        `envconfig:"STOREFRONT_WALLET_EXCHANGE_RATE" default:"25000"`
	Currency      string        `envconfig:"STOREFRONT_WALLET_CURRENCY" default:"USD"`
	VerifyTimeout time.Duration `envconfig:"STOREFRONT_WALLET_VERIFY_TIMEOUT" default:"10s"`
}

// Rate parses ExchangeRate. Load has already validated it.
func (w WalletConfig) Rate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(w.ExchangeRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (w WalletConfig) validate() error {
	rate, err := decimal.NewFromString(strings.TrimSpace(w.ExchangeRate))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvWalletExchangeRate, err)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("%s must be positive", EnvWalletExchangeRate)
	}
	return nil
}

type SettlementConfig struct {
	LockTTL time.Duration `envconfig:"STOREFRONT_SETTLEMENT_LOCK_TTL" default:"30s"`
}

type InventoryConfig struct {
	AllowOversell bool `envconfig:"STOREFRONT_INVENTORY_ALLOW_OVERSELL" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"STOREFRONT_PUBSUB_ORDERS_TOPIC" default:"storefront-order-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"STOREFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// CronConfig drives the maintenance worker.
type CronConfig struct {
	Interval          time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"1h"`
	LockTTL           time.Duration `envconfig:"STOREFRONT_CRON_LOCK_TTL" default:"30m"`
	OutboxRetention   time.Duration `envconfig:"STOREFRONT_OUTBOX_RETENTION" default:"720h"`
	BackfillBatchSize int           `envconfig:"STOREFRONT_DELIVERY_BACKFILL_BATCH" default:"200"`
}

type TelemetryConfig struct {
	Enabled        bool   `envconfig:"STOREFRONT_OTEL_ENABLED" default:"false"`
	Endpoint       string `envconfig:"STOREFRONT_OTEL_EXPORTER_ENDPOINT" default:"localhost:4317"`
	ServiceVersion string `envconfig:"STOREFRONT_SERVICE_VERSION" default:"dev"`
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
