package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv = "STOREFRONT_APP_ENV"
	EnvPort   = "STOREFRONT_APP_PORT"

	EnvDBDSN  = "STOREFRONT_DB_DSN"
	EnvDBHost = "STOREFRONT_DB_HOST"
	EnvDBUser = "STOREFRONT_DB_USER"
	EnvDBName = "STOREFRONT_DB_NAME"

	EnvRedisURL = "STOREFRONT_REDIS_URL"

	EnvJWTSecret = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer = "STOREFRONT_JWT_ISSUER"

	EnvFrontendURL = "STOREFRONT_FRONTEND_URL"

	EnvVNPayTmnCode    = "STOREFRONT_VNPAY_TMN_CODE"
	EnvVNPayHashSecret = "STOREFRONT_VNPAY_HASH_SECRET"
	EnvVNPayReturnURL  = "STOREFRONT_VNPAY_RETURN_URL"

	EnvWalletExchangeRate  = "STOREFRONT_WALLET_EXCHANGE_RATE"
	EnvWalletVerifyTimeout = "STOREFRONT_WALLET_VERIFY_TIMEOUT"

	EnvInventoryAllowOversell = "STOREFRONT_INVENTORY_ALLOW_OVERSELL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
