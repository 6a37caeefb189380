package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Security      SecurityConfig
	Schwab        SchwabConfig
	RateLimit     RateLimitConfig
	Janitor       JanitorConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	PublicURL    string // externally visible base URL, no trailing slash
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

// SecurityConfig holds key material and token lifetimes
type SecurityConfig struct {
	EncryptionKey   string // 32-byte URL-safe base64 fernet key
	JWTSecretKey    string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration
}

// SchwabConfig holds upstream OAuth credentials. All three must be set
// for the Schwab bridge to be enabled.
type SchwabConfig struct {
	AppKey      string
	AppSecret   string
	CallbackURL string
}

// Enabled reports whether the upstream bridge is configured.
func (c SchwabConfig) Enabled() bool {
	return c.AppKey != "" && c.AppSecret != "" && c.CallbackURL != ""
}

// RateLimitConfig holds per-endpoint rate limiting configuration,
// expressed as requests per minute per client IP.
type RateLimitConfig struct {
	LoginPerMinute     int
	AuthorizePerMinute int
	TokenPerMinute     int
	Burst              int
}

// JanitorConfig holds expired-row cleanup configuration
type JanitorConfig struct {
	Interval time.Duration
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// Load loads configuration from the environment. A .env file in the
// working directory is read first if present.
func Load() (*Config, error) {
	// Ignore a missing .env; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			PublicURL:    getEnv("SERVER_URL", ""),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        parseInt("DB_MAX_CONNS", 20),
			MinConns:        parseInt("DB_MIN_CONNS", 2),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "30m"),
		},
		Security: SecurityConfig{
			EncryptionKey:   getEnv("ENCRYPTION_KEY", ""),
			JWTSecretKey:    getEnv("JWT_SECRET_KEY", ""),
			AccessTokenTTL:  parseDuration("ACCESS_TOKEN_TTL", "15m"),
			RefreshTokenTTL: parseDuration("REFRESH_TOKEN_TTL", "720h"),
			AuthCodeTTL:     parseDuration("AUTH_CODE_TTL", "10m"),
		},
		Schwab: SchwabConfig{
			AppKey:      getEnv("SCHWAB_APP_KEY", ""),
			AppSecret:   getEnv("SCHWAB_APP_SECRET", ""),
			CallbackURL: getEnv("SCHWAB_CALLBACK_URL", ""),
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute:     parseInt("RATELIMIT_LOGIN_PER_MINUTE", 10),
			AuthorizePerMinute: parseInt("RATELIMIT_AUTHORIZE_PER_MINUTE", 20),
			TokenPerMinute:     parseInt("RATELIMIT_TOKEN_PER_MINUTE", 30),
			Burst:              parseInt("RATELIMIT_BURST", 5),
		},
		Janitor: JanitorConfig{
			Interval: parseDuration("JANITOR_INTERVAL", "60m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "brokergate"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration. Key material is never defaulted;
// the process must not come up able to mint unverifiable tokens or write
// undecryptable ciphertext.
func (c *Config) Validate() error {
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if c.Security.JWTSecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	// The raw value is the HS256 key; below 32 bytes it is weaker than
	// the hash it drives.
	if len(c.Security.JWTSecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes")
	}
	if c.Server.PublicURL == "" {
		return fmt.Errorf("SERVER_URL is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
