package infra

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/reflink/platform/internal/domain"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5432"`
	PGUser      string `env:"PGUSER" envDefault:"reflink"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"reflink"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"reflink"`
	PGMaxConns  int32  `env:"PG_MAX_CONNS" envDefault:"20"`
	PGMinConns  int32  `env:"PG_MIN_CONNS" envDefault:"2"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// Apply db/migrations on startup (postgres only)
	MigrateOnStart bool `env:"MIGRATE_ON_START" envDefault:"false"`

	// Redis
	RedisURL     string        `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	RedisEnabled bool          `env:"REDIS_ENABLED" envDefault:"false"`
	LinkCacheTTL time.Duration `env:"LINK_CACHE_TTL" envDefault:"5m"`

	// JWT
	JWTSecret          string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTAdminExpiry     string `env:"JWT_ADMIN_EXPIRY" envDefault:"8h"`
	JWTAffiliateExpiry string `env:"JWT_AFFILIATE_EXPIRY" envDefault:"12h"`

	// Bootstrap operator, created on startup when set
	AdminBootstrapEmail    string `env:"ADMIN_BOOTSTRAP_EMAIL"`
	AdminBootstrapPassword string `env:"ADMIN_BOOTSTRAP_PASSWORD"`

	// Server ports
	APIPort         int `env:"API_PORT" envDefault:"3100"`
	WorkerAdminPort int `env:"WORKER_ADMIN_PORT" envDefault:"3101"`

	// Kafka
	KafkaBrokers      string        `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled      bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaWriteTimeout time.Duration `env:"KAFKA_WRITE_TIMEOUT" envDefault:"10s"`
	NotificationTopic string        `env:"NOTIFICATION_TOPIC" envDefault:"reflink.notifications"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Tracking and webhooks
	OrderWebhookSecret string `env:"ORDER_WEBHOOK_SECRET"`
	ClickTrackingParam string `env:"CLICK_TRACKING_PARAM" envDefault:"aff_click"`

	// Payouts
	PayoutMinAmount     int64         `env:"PAYOUT_MIN_AMOUNT" envDefault:"5000"`
	PayoutCurrency      string        `env:"PAYOUT_CURRENCY" envDefault:"TRY"`
	PayoutMaxRetries    int           `env:"PAYOUT_MAX_RETRIES" envDefault:"3"`
	PayoutRetryCooldown time.Duration `env:"PAYOUT_RETRY_COOLDOWN" envDefault:"24h"`
	PayoutMethodTimeout time.Duration `env:"PAYOUT_METHOD_TIMEOUT" envDefault:"30s"`
	PayoutSimulate      bool          `env:"PAYOUT_SIMULATE" envDefault:"false"`

	// Scheduler
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" envDefault:"false"`
	MonthlyRunDay    int  `env:"MONTHLY_RUN_DAY" envDefault:"1"`
	MonthlyRunHour   int  `env:"MONTHLY_RUN_HOUR" envDefault:"10"`
	DailyRunHour     int  `env:"DAILY_RUN_HOUR" envDefault:"9"`

	// Notification relay. RelayEmbedded runs it inside the api process,
	// which is the only option with STORE_DRIVER=memory.
	RelayPollInterval time.Duration `env:"RELAY_POLL_INTERVAL" envDefault:"2s"`
	RelayEmbedded     bool          `env:"RELAY_EMBEDDED" envDefault:"false"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`

	// External services
	BankAPIURL      string `env:"BANK_API_URL"`
	BankAPIKey      string `env:"BANK_API_KEY"`
	StripeSecretKey string `env:"STRIPE_SECRET_KEY"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure or inconsistent configuration.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass the secret checks (local dev only).
func (c *Config) Validate() error {
	if c.StoreDriver != StorePostgres && c.StoreDriver != StoreMemory {
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreDriver)
	}
	if c.PayoutMaxRetries < 1 {
		return fmt.Errorf("PAYOUT_MAX_RETRIES must be at least 1")
	}
	if err := domain.ValidateCurrency(c.PayoutCurrency); err != nil {
		return fmt.Errorf("PAYOUT_CURRENCY: %w", err)
	}
	if c.PayoutMinAmount < 0 {
		return fmt.Errorf("PAYOUT_MIN_AMOUNT must not be negative")
	}
	if c.PGMinConns < 0 || c.PGMaxConns < 1 || c.PGMinConns > c.PGMaxConns {
		return fmt.Errorf("PG_MIN_CONNS/PG_MAX_CONNS must satisfy 0 <= min <= max and max >= 1")
	}
	if c.MonthlyRunDay < 1 || c.MonthlyRunDay > 28 {
		return fmt.Errorf("MONTHLY_RUN_DAY must be between 1 and 28")
	}
	if c.MonthlyRunHour < 0 || c.MonthlyRunHour > 23 || c.DailyRunHour < 0 || c.DailyRunHour > 23 {
		return fmt.Errorf("scheduler run hours must be between 0 and 23")
	}

	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
