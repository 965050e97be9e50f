package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	TokenFormatJWT    = "jwt"
	TokenFormatPaseto = "paseto"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Email     EmailConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" default:"8080"`
	Env             string        `envconfig:"APP_ENV" default:"dev"` // dev or prod
	LogFormat       string        `envconfig:"LOG_FORMAT" default:""`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
	TrustedOrigins  []string      `envconfig:"TRUSTED_ORIGINS" default:"http://localhost:3000"` // CORS allowed origins for cookie auth
}

type DatabaseConfig struct {
	Driver         string `envconfig:"STORE_DRIVER" default:"postgres"`
	Host           string `envconfig:"DB_HOST" default:"localhost"`
	Port           string `envconfig:"DB_PORT" default:"5432"`
	User           string `envconfig:"DB_USER" default:"postgres"`
	Password       string `envconfig:"DB_PASSWORD" default:"postgres"`
	DBName         string `envconfig:"DB_NAME" default:"unlockscore"`
	SSLMode        string `envconfig:"DB_SSLMODE" default:"disable"`
	ChannelBinding string `envconfig:"DB_CHANNEL_BINDING" default:""` // "require" for Neon DB, empty for local
	AutoMigrate    bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`
	MaxOpenConns   int    `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns   int    `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:""`
	Port     string `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type AuthConfig struct {
	TokenFormat          string        `envconfig:"TOKEN_FORMAT" default:"jwt"`
	AccessTokenSecret    string        `envconfig:"ACCESS_TOKEN_SECRET"`
	RefreshTokenSecret   string        `envconfig:"REFRESH_TOKEN_SECRET"`
	AccessTokenDuration  time.Duration `envconfig:"ACCESS_TOKEN_DURATION" default:"15m"`
	RefreshTokenDuration time.Duration `envconfig:"REFRESH_TOKEN_DURATION" default:"168h"`
	OTPTTL               time.Duration `envconfig:"OTP_TTL" default:"10m"`
}

type EmailConfig struct {
	SMTPHost     string `envconfig:"SMTP_HOST" default:""`
	SMTPPort     string `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASS" default:""`
	FromName     string `envconfig:"EMAIL_FROM_NAME" default:"UnlockScore AI"`
	FrontendURL  string `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`
}

type RateLimitConfig struct {
	Requests      int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	Window        time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"15m"`
	EmailCooldown time.Duration `envconfig:"RATE_LIMIT_EMAIL_COOLDOWN" default:"2m"`
	GlobalPerMin  int           `envconfig:"GLOBAL_RATE_LIMIT" default:"300"`
}

// Load reads configuration from the environment, after merging a .env file
// from the working directory when one exists.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{}
	for _, part := range []any{&cfg.Server, &cfg.Database, &cfg.Redis, &cfg.Auth, &cfg.Email, &cfg.RateLimit} {
		if err := envconfig.Process("", part); err != nil {
			return nil, fmt.Errorf("parse environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabase reads only the store settings. Admin commands use it so they
// run without token secrets configured.
func LoadDatabase() (*DatabaseConfig, error) {
	_ = godotenv.Load()

	cfg := &DatabaseConfig{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	a := c.Auth
	if a.AccessTokenSecret == "" {
		return errors.New("ACCESS_TOKEN_SECRET is required")
	}
	if a.RefreshTokenSecret == "" {
		return errors.New("REFRESH_TOKEN_SECRET is required")
	}
	if a.AccessTokenSecret == a.RefreshTokenSecret {
		return errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}

	switch a.TokenFormat {
	case TokenFormatJWT:
	case TokenFormatPaseto:
		// v4.local needs exactly 32 bytes of key material
		if len(a.AccessTokenSecret) != 32 || len(a.RefreshTokenSecret) != 32 {
			return errors.New("paseto token secrets must be exactly 32 bytes")
		}
	default:
		return fmt.Errorf("unsupported TOKEN_FORMAT %q", a.TokenFormat)
	}

	if a.AccessTokenDuration <= 0 || a.RefreshTokenDuration <= 0 || a.OTPTTL <= 0 {
		return errors.New("token and OTP durations must be positive")
	}

	switch c.Database.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Database.Driver)
	}

	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)

	// Add channel_binding if configured (required for Neon DB)
	if c.ChannelBinding != "" {
		connStr += fmt.Sprintf(" channel_binding=%s", c.ChannelBinding)
	}

	return connStr
}

// Enabled reports whether a Redis host was configured.
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// Address returns Redis connection address (host:port)
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if the environment is set to dev
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "dev"
}

// JSONLogs reports whether logs should be emitted as JSON. Defaults to JSON
// outside development.
func (c *ServerConfig) JSONLogs() bool {
	if c.LogFormat == "" {
		return !c.IsDevelopment()
	}
	return c.LogFormat == "json"
}
