package config

// EnvPrefix is handed to envconfig; explicit tags fall back to their un-prefixed names.
const EnvPrefix = "LOCALPROS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "LOCALPROS_APP_ENV"
	EnvPort     = "LOCALPROS_APP_PORT"
	EnvDBDSN    = "LOCALPROS_DB_DSN"
	EnvDBHost   = "LOCALPROS_DB_HOST"
	EnvDBUser   = "LOCALPROS_DB_USER"
	EnvDBName   = "LOCALPROS_DB_NAME"
	EnvRedisURL = "LOCALPROS_REDIS_URL"

	EnvJWTSecret = "LOCALPROS_JWT_SECRET"
	EnvJWTIssuer = "LOCALPROS_JWT_ISSUER"

	EnvStripeAPIKey        = "LOCALPROS_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "LOCALPROS_STRIPE_WEBHOOK_SECRET"

	EnvPriceStandardMonthly = "LOCALPROS_PRICE_STANDARD_MONTHLY"
	EnvPriceStandardAnnual  = "LOCALPROS_PRICE_STANDARD_ANNUAL"
	EnvPricePremiumMonthly  = "LOCALPROS_PRICE_PREMIUM_MONTHLY"
	EnvPricePremiumAnnual   = "LOCALPROS_PRICE_PREMIUM_ANNUAL"
	EnvPriceEliteMonthly    = "LOCALPROS_PRICE_ELITE_MONTHLY"
	EnvPriceEliteAnnual     = "LOCALPROS_PRICE_ELITE_ANNUAL"
	EnvPriceLegacyMonthly   = "LOCALPROS_STRIPE_PRICE_MONTHLY"
	EnvPriceLegacyAnnual    = "LOCALPROS_STRIPE_PRICE_ANNUAL"

	EnvBillingTestCompanyID = "LOCALPROS_BILLING_TEST_COMPANY_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
