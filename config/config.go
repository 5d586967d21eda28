package config

import (
	"encoding/hex"
	"time"

	"github.com/juju/errors"

	"go-hotspot/core"
)

type Config struct {
	Development bool

	HTTPPort    int
	PublicURL   string
	JWTSecret   string
	CallbackKey string

	DB       DBConfig
	Redis    RedisConfig
	AMQP     AMQPConfig
	Telegram TelegramConfig
	SMTP     SMTPConfig

	Voucher VoucherConfig
	Device  DeviceConfig
	Jobs    JobConfig
	Cleanup CleanupConfig
	Payment PaymentConfig

	DefaultLimits core.Limits
}

type DBConfig struct {
	Driver string // postgres, mysql or sqlite
	DSN    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
}

// SMTPConfig enables alert emails when Server is set.
type SMTPConfig struct {
	Server   string
	Port     string
	User     string
	Password string
	FromAddr string
	FromName string
	To       []string
}

type VoucherConfig struct {
	CodePrefix     string
	PasswordLength int
	CodeAttempts   int
}

type DeviceConfig struct {
	SecretKey    string // hex encoded 32 byte key
	PollInterval time.Duration
	PollTimeout  time.Duration
	Concurrency  int
	CallAttempts int
	CallTimeout  time.Duration
	SyncSessions bool
}

type JobConfig struct {
	Workers      int
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Deadline     time.Duration
	Lease        time.Duration
	PollInterval time.Duration
}

type CleanupConfig struct {
	Interval             time.Duration
	AutoDisableAfterDays int
	DeleteAfterDays      int
	Notify               bool
}

type PaymentConfig struct {
	Providers       []string
	OrderServiceURL string
	PollInterval    time.Duration
	PendingAfter    time.Duration
	CallTimeout     time.Duration
	CallAttempts    int
}

// Load reads the configuration from the environment (and .env) and validates it.
func Load() (*Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the configuration without validating it, so command line
// flags can be applied first.
func FromEnv() *Config {
	LoadEnv()

	return &Config{
		Development: getEnvAsBool("DEVELOPMENT", false),
		HTTPPort:    getEnvAsInt("HTTP_PORT", 8080),
		PublicURL:   getEnv("PUBLIC_URL", "http://localhost:8080"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		CallbackKey: getEnv("CALLBACK_KEY", ""),
		DB: DBConfig{
			Driver: getEnv("DB_DRIVER", "postgres"),
			DSN:    getEnv("DB_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		AMQP: AMQPConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("EVENTS_EXCHANGE", "hotspot.events"),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnvAsInt64("TELEGRAM_CHAT_ID", 0),
		},
		SMTP: SMTPConfig{
			Server:   getEnv("SMTP_SERVER", ""),
			Port:     getEnv("SMTP_PORT", "587"),
			User:     getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASS", ""),
			FromAddr: getEnv("FROM_ADDR", ""),
			FromName: getEnv("FROM_NAME", "Hotspot"),
			To:       getEnvAsList("ALERT_EMAILS", nil),
		},
		Voucher: VoucherConfig{
			CodePrefix:     getEnv("VOUCHER_CODE_PREFIX", "HS"),
			PasswordLength: getEnvAsInt("VOUCHER_PASSWORD_LENGTH", 8),
			CodeAttempts:   getEnvAsInt("VOUCHER_CODE_ATTEMPTS", 10),
		},
		Device: DeviceConfig{
			SecretKey:    getEnv("DEVICE_SECRET_KEY", ""),
			PollInterval: getEnvAsDuration("DEVICE_POLL_INTERVAL", time.Minute),
			PollTimeout:  getEnvAsDuration("DEVICE_POLL_TIMEOUT", 30*time.Second),
			Concurrency:  getEnvAsInt("DEVICE_POLL_CONCURRENCY", 16),
			CallAttempts: getEnvAsInt("DEVICE_CALL_ATTEMPTS", 3),
			CallTimeout:  getEnvAsDuration("DEVICE_CALL_TIMEOUT", 10*time.Second),
			SyncSessions: getEnvAsBool("DEVICE_SYNC_SESSIONS", true),
		},
		Jobs: JobConfig{
			Workers:      getEnvAsInt("JOB_WORKERS", 4),
			MaxAttempts:  getEnvAsInt("JOB_MAX_ATTEMPTS", 3),
			BaseDelay:    getEnvAsDuration("JOB_BASE_DELAY", time.Minute),
			MaxDelay:     getEnvAsDuration("JOB_MAX_DELAY", 5*time.Minute),
			Deadline:     getEnvAsDuration("JOB_DEADLINE", 10*time.Minute),
			Lease:        getEnvAsDuration("JOB_LEASE", 2*time.Minute),
			PollInterval: getEnvAsDuration("JOB_POLL_INTERVAL", 2*time.Second),
		},
		Cleanup: CleanupConfig{
			Interval:             getEnvAsDuration("CLEANUP_INTERVAL", time.Hour),
			AutoDisableAfterDays: getEnvAsInt("CLEANUP_AUTO_DISABLE_AFTER_DAYS", 30),
			DeleteAfterDays:      getEnvAsInt("CLEANUP_DELETE_AFTER_DAYS", 90),
			Notify:               getEnvAsBool("CLEANUP_NOTIFY", false),
		},
		Payment: PaymentConfig{
			Providers:       getEnvAsList("PAYMENT_PROVIDERS", []string{"manual"}),
			OrderServiceURL: getEnv("ORDER_SERVICE_URL", ""),
			PollInterval:    getEnvAsDuration("PAYMENT_POLL_INTERVAL", 30*time.Second),
			PendingAfter:    getEnvAsDuration("PAYMENT_PENDING_AFTER", time.Minute),
			CallTimeout:     getEnvAsDuration("PAYMENT_CALL_TIMEOUT", 15*time.Second),
			CallAttempts:    getEnvAsInt("PAYMENT_CALL_ATTEMPTS", 3),
		},
		DefaultLimits: core.Limits{
			MaxDevices: getEnvAsInt("TENANT_MAX_DEVICES", 50),
		},
	}
}

// Validate checks that all required configuration fields are properly set.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return core.Configurationf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return core.Configurationf("DB_DSN is required")
	}
	if _, err := c.DeviceKey(); err != nil {
		return errors.Trace(err)
	}
	if c.Voucher.CodePrefix == "" {
		return core.Configurationf("VOUCHER_CODE_PREFIX is required")
	}
	if c.Voucher.PasswordLength < 4 {
		return core.Configurationf("VOUCHER_PASSWORD_LENGTH must be at least 4")
	}
	if c.Voucher.CodeAttempts < 1 {
		return core.Configurationf("VOUCHER_CODE_ATTEMPTS must be positive")
	}
	if c.Device.PollTimeout <= 0 || c.Device.Concurrency < 1 {
		return core.Configurationf("device poll timeout and concurrency must be positive")
	}
	if c.Jobs.Workers < 1 || c.Jobs.MaxAttempts < 1 {
		return core.Configurationf("JOB_WORKERS and JOB_MAX_ATTEMPTS must be positive")
	}
	if c.Jobs.BaseDelay <= 0 || c.Jobs.Deadline <= 0 || c.Jobs.Lease <= 0 {
		return core.Configurationf("job delays, lease and deadline must be positive")
	}
	if c.Cleanup.AutoDisableAfterDays < 0 || c.Cleanup.DeleteAfterDays < 1 {
		return core.Configurationf("cleanup thresholds out of range")
	}
	if len(c.Payment.Providers) == 0 {
		return core.Configurationf("PAYMENT_PROVIDERS is required")
	}
	return nil
}

// DeviceKey decodes the key used to seal device credentials at rest.
func (c *Config) DeviceKey() ([]byte, error) {
	key, err := hex.DecodeString(c.Device.SecretKey)
	if err != nil || len(key) != 32 {
		return nil, core.Configurationf("DEVICE_SECRET_KEY must be 64 hex characters")
	}
	return key, nil
}
