package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Plans        PlansConfig
	Billing      BillingConfig
	SMTP         SMTPConfig
	Notifier     NotifierConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	cfg.Plans.applyUnprefixed()
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LOCALPROS_APP_ENV" required:"true"`
	Port         string `envconfig:"LOCALPROS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LOCALPROS_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOCALPROS_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"LOCALPROS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"LOCALPROS_DB_DSN"`

	LegacyHost     string `envconfig:"LOCALPROS_DB_HOST"`
	LegacyPort     int    `envconfig:"LOCALPROS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LOCALPROS_DB_USER"`
	LegacyPassword string `envconfig:"LOCALPROS_DB_PASSWORD"`
	LegacyName     string `envconfig:"LOCALPROS_DB_NAME"`
	LegacySSLMode  string `envconfig:"LOCALPROS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LOCALPROS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LOCALPROS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LOCALPROS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LOCALPROS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LOCALPROS_REDIS_URL"`
	Address      string        `envconfig:"LOCALPROS_REDIS_ADDR"`
	Password     string        `envconfig:"LOCALPROS_REDIS_PASSWORD"`
	DB           int           `envconfig:"LOCALPROS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LOCALPROS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LOCALPROS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LOCALPROS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LOCALPROS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LOCALPROS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"LOCALPROS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LOCALPROS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LOCALPROS_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey string `envconfig:"LOCALPROS_STRIPE_API_KEY" required:"true"`
	Secret string `envconfig:"LOCALPROS_STRIPE_WEBHOOK_SECRET" required:"true"`
	Env    string `envconfig:"LOCALPROS_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// PlansConfig holds the price references used to resolve a tier and billing cycle.
// The un-prefixed names (PRICE_PREMIUM_MONTHLY, ...) are accepted as well.
type PlansConfig struct {
	StandardMonthly string `envconfig:"LOCALPROS_PRICE_STANDARD_MONTHLY"`
	StandardAnnual  string `envconfig:"LOCALPROS_PRICE_STANDARD_ANNUAL"`
	PremiumMonthly  string `envconfig:"LOCALPROS_PRICE_PREMIUM_MONTHLY"`
	PremiumAnnual   string `envconfig:"LOCALPROS_PRICE_PREMIUM_ANNUAL"`
	EliteMonthly    string `envconfig:"LOCALPROS_PRICE_ELITE_MONTHLY"`
	EliteAnnual     string `envconfig:"LOCALPROS_PRICE_ELITE_ANNUAL"`

	LegacyMonthly string `envconfig:"LOCALPROS_STRIPE_PRICE_MONTHLY"`
	LegacyAnnual  string `envconfig:"LOCALPROS_STRIPE_PRICE_ANNUAL"`
}

// applyUnprefixed fills prices the LOCALPROS_ names left empty from their
// bare names. The prefixed value wins when both are set.
func (p *PlansConfig) applyUnprefixed() {
	fields := []struct {
		dst *string
		env string
	}{
		{&p.StandardMonthly, EnvPriceStandardMonthly},
		{&p.StandardAnnual, EnvPriceStandardAnnual},
		{&p.PremiumMonthly, EnvPricePremiumMonthly},
		{&p.PremiumAnnual, EnvPricePremiumAnnual},
		{&p.EliteMonthly, EnvPriceEliteMonthly},
		{&p.EliteAnnual, EnvPriceEliteAnnual},
		{&p.LegacyMonthly, EnvPriceLegacyMonthly},
		{&p.LegacyAnnual, EnvPriceLegacyAnnual},
	}
	for _, f := range fields {
		if *f.dst != "" {
			continue
		}
		if v, ok := os.LookupEnv(strings.TrimPrefix(f.env, EnvPrefix+"_")); ok {
			*f.dst = v
		}
	}
}

type BillingConfig struct {
	TestCompanyID         string        `envconfig:"LOCALPROS_BILLING_TEST_COMPANY_ID" default:"test-company"`
	DefaultCurrency       string        `envconfig:"LOCALPROS_BILLING_DEFAULT_CURRENCY" default:"usd"`
	WebhookIdempotencyTTL time.Duration `envconfig:"LOCALPROS_BILLING_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	CancelNoticeMonths    int           `envconfig:"LOCALPROS_BILLING_CANCEL_NOTICE_MONTHS" default:"1"`
}

type SMTPConfig struct {
	Host        string `envconfig:"LOCALPROS_SMTP_HOST"`
	Port        int    `envconfig:"LOCALPROS_SMTP_PORT" default:"587"`
	Username    string `envconfig:"LOCALPROS_SMTP_USERNAME"`
	Password    string `envconfig:"LOCALPROS_SMTP_PASSWORD"`
	FromAddress string `envconfig:"LOCALPROS_SMTP_FROM_ADDRESS" default:"billing@localpros.app"`
	FromName    string `envconfig:"LOCALPROS_SMTP_FROM_NAME" default:"LocalPros"`
	BaseURL     string `envconfig:"LOCALPROS_DASHBOARD_BASE_URL" default:"http://localhost:3000"`
}

type NotifierConfig struct {
	BatchSize         int           `envconfig:"LOCALPROS_NOTIFIER_BATCH_SIZE" default:"25"`
	PollIntervalMS    int           `envconfig:"LOCALPROS_NOTIFIER_POLL_MS" default:"1000"`
	MaxAttempts       int           `envconfig:"LOCALPROS_NOTIFIER_MAX_ATTEMPTS" default:"8"`
	MetricsAddr       string        `envconfig:"LOCALPROS_NOTIFIER_METRICS_ADDR" default:":9091"`
	RetentionDays     int           `envconfig:"LOCALPROS_NOTIFIER_RETENTION_DAYS" default:"30"`
	RetentionInterval time.Duration `envconfig:"LOCALPROS_NOTIFIER_RETENTION_INTERVAL" default:"6h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LOCALPROS_AUTO_MIGRATE" default:"false"`
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
