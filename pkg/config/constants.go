package config

const (
	EnvPrefix = "AFM"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	StorageProviderLocal = "local"
	StorageProviderS3    = "s3"
)

const (
	EnvAppEnv   = "AFM_APP_ENV"
	EnvPort     = "AFM_APP_PORT"
	EnvLogLevel = "AFM_LOG_LEVEL"

	EnvDBDSN        = "AFM_DB_DSN"
	EnvDBDriver     = "AFM_DB_DRIVER"
	EnvDBSQLitePath = "AFM_DB_SQLITE_PATH"
	EnvDBHost       = "AFM_DB_HOST"
	EnvDBUser       = "AFM_DB_USER"
	EnvDBName       = "AFM_DB_NAME"

	EnvRedisURL = "AFM_REDIS_URL"

	EnvJWTSecret  = "AFM_JWT_SECRET"
	EnvJWTIssuer  = "AFM_JWT_ISSUER"
	EnvJWTExpMins = "AFM_JWT_EXPIRATION_MINUTES"

	EnvCartMinQuantity  = "AFM_CART_MIN_QUANTITY"
	EnvCartMaxQuantity  = "AFM_CART_MAX_QUANTITY"
	EnvCartSyncDebounce = "AFM_CART_SYNC_DEBOUNCE"
	EnvCartCurrency     = "AFM_CART_CURRENCY"

	EnvStorageProvider = "AFM_STORAGE_PROVIDER"
	EnvS3Bucket        = "AFM_S3_BUCKET"

	EnvStripeAPIKey = "AFM_STRIPE_API_KEY"
	EnvStripeSecret = "AFM_STRIPE_SECRET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
