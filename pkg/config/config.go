package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	RateLimit     RateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Cart          CartConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Storage       StorageConfig
	Stripe        StripeConfig
	Sentry        SentryConfig
	Outbox        OutboxConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Cart.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"AFM_APP_ENV" required:"true"`
	Port         string `envconfig:"AFM_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"AFM_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"AFM_LOG_WARN_STACK" default:"false"`
	PublicURL    string `envconfig:"AFM_PUBLIC_URL" default:"http://localhost:8080"`

	CORSOrigins []string `envconfig:"AFM_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"AFM_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN        string `envconfig:"AFM_DB_DSN"`
	Driver     string `envconfig:"AFM_DB_DRIVER" default:"postgres"`
	SQLitePath string `envconfig:"AFM_DB_SQLITE_PATH" default:"afm.db"`

	LegacyHost     string `envconfig:"AFM_DB_HOST"`
	LegacyPort     int    `envconfig:"AFM_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"AFM_DB_USER"`
	LegacyPassword string `envconfig:"AFM_DB_PASSWORD"`
	LegacyName     string `envconfig:"AFM_DB_NAME"`
	LegacySSLMode  string `envconfig:"AFM_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"AFM_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"AFM_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"AFM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"AFM_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"AFM_DB_SLOW_QUERY" default:"500ms"`
}

// IsSQLite reports whether the file-based driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"AFM_REDIS_URL" required:"true"`
	Address      string        `envconfig:"AFM_REDIS_ADDR"`
	Password     string        `envconfig:"AFM_REDIS_PASSWORD"`
	DB           int           `envconfig:"AFM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"AFM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"AFM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"AFM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"AFM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"AFM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"AFM_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"AFM_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"AFM_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenDays  int    `envconfig:"AFM_JWT_REFRESH_TOKEN_DAYS" default:"30"`
}

// RefreshTokenTTL returns how long a refresh session stays valid.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenDays <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenDays) * 24 * time.Hour
}

// TTL returns the access token lifetime.
func (j JWTConfig) TTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"AFM_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"AFM_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"AFM_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"AFM_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"AFM_ARGON_KEY_LEN" default:"32"`
}

// RateLimitConfig holds fixed-window limits; a zero limit disables that counter.
type RateLimitConfig struct {
	LoginWindow     time.Duration `envconfig:"AFM_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit int           `envconfig:"AFM_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit    int           `envconfig:"AFM_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`

	RegisterWindow     time.Duration `envconfig:"AFM_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"1h"`
	RegisterEmailLimit int           `envconfig:"AFM_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"AFM_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"10"`

	CheckoutWindow    time.Duration `envconfig:"AFM_CHECKOUT_RATE_LIMIT_WINDOW" default:"1m"`
	CheckoutIPLimit   int           `envconfig:"AFM_CHECKOUT_RATE_LIMIT_IP_LIMIT" default:"30"`
	CheckoutCartLimit int           `envconfig:"AFM_CHECKOUT_RATE_LIMIT_CART_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"AFM_AUTO_MIGRATE" default:"false"`
	GuestCarts  bool `envconfig:"AFM_FEATURE_GUEST_CARTS" default:"true"`
}

// CartConfig bounds cart quantities and drives the sync/caching layer.
type CartConfig struct {
	MinQuantity  int           `envconfig:"AFM_CART_MIN_QUANTITY" default:"1"`
	MaxQuantity  int           `envconfig:"AFM_CART_MAX_QUANTITY" default:"99"`
	SyncDebounce time.Duration `envconfig:"AFM_CART_SYNC_DEBOUNCE" default:"400ms"`
	CacheTTL     time.Duration `envconfig:"AFM_CART_CACHE_TTL" default:"30m"`
	GuestTTL     time.Duration `envconfig:"AFM_CART_GUEST_TTL" default:"720h"`
	Currency     string        `envconfig:"AFM_CART_CURRENCY" default:"USD"`
	Locale       string        `envconfig:"AFM_CART_LOCALE" default:"en-US"`
}

func (c CartConfig) validate() error {
	if c.MinQuantity < 1 {
		return fmt.Errorf("%s must be at least 1", EnvCartMinQuantity)
	}
	if c.MaxQuantity < c.MinQuantity {
		return fmt.Errorf("%s must be >= %s", EnvCartMaxQuantity, EnvCartMinQuantity)
	}
	return nil
}

type GCPConfig struct {
	ProjectID              string `envconfig:"AFM_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"AFM_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"AFM_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"AFM_PUBSUB_ORDERS_TOPIC" default:"afm-order-events"`
	CartsTopic  string `envconfig:"AFM_PUBSUB_CARTS_TOPIC" default:"afm-cart-events"`
}

// StorageConfig selects where product media lives.
type StorageConfig struct {
	Provider    string `envconfig:"AFM_STORAGE_PROVIDER" default:"local"`
	LocalDir    string `envconfig:"AFM_STORAGE_LOCAL_DIR" default:"./uploads"`
	LocalURL    string `envconfig:"AFM_STORAGE_LOCAL_URL" default:"/uploads"`
	MaxUpload   int64  `envconfig:"AFM_STORAGE_MAX_UPLOAD_BYTES" default:"10485760"`
	S3Bucket    string `envconfig:"AFM_S3_BUCKET"`
	S3Region    string `envconfig:"AFM_S3_REGION" default:"auto"`
	S3Endpoint  string `envconfig:"AFM_S3_ENDPOINT"`
	S3KeyID     string `envconfig:"AFM_S3_ACCESS_KEY_ID"`
	S3Secret    string `envconfig:"AFM_S3_SECRET_ACCESS_KEY"`
	S3PublicURL string `envconfig:"AFM_S3_PUBLIC_URL"`
}

// CronConfig drives the maintenance jobs run by cmd/cron-worker.
type CronConfig struct {
	Interval            time.Duration `envconfig:"AFM_CRON_INTERVAL" default:"1h"`
	PendingOrderTTL     time.Duration `envconfig:"AFM_ORDER_PENDING_TTL" default:"24h"`
	OutboxRetentionDays int           `envconfig:"AFM_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays    int           `envconfig:"AFM_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
	BatchSize           int           `envconfig:"AFM_CRON_BATCH_SIZE" default:"200"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"AFM_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"AFM_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"AFM_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey string `envconfig:"AFM_STRIPE_API_KEY"`
	Secret string `envconfig:"AFM_STRIPE_SECRET"`
	Env    string `envconfig:"AFM_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SentryConfig struct {
	DSN              string  `envconfig:"AFM_SENTRY_DSN"`
	Environment      string  `envconfig:"AFM_SENTRY_ENVIRONMENT"`
	TracesSampleRate float64 `envconfig:"AFM_SENTRY_TRACES_SAMPLE_RATE" default:"0"`
}

func (db *DBConfig) ensureDSN() error {
	if db.IsSQLite() {
		if db.DSN == "" {
			db.DSN = db.SQLitePath
		}
		return nil
	}
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
