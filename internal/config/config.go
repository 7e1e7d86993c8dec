package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	OpTimeoutMsec int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	AccessSecret      string
	RefreshSecret     string
	AccessTTLSeconds  int
	RefreshTTLSeconds int
	Issuer            string
	ClockSkewSeconds  int
	BcryptCost        int
	SessionKeepAlive  bool
	RefreshCookieName string
	CookieSecure      bool
	NoticeChannel     string
}

// RateLimitConfig bounds credential-checking endpoints per client IP.
type RateLimitConfig struct {
	LoginPerMinute int
	LoginBurst     int
}

// Load reads configuration from environment variables, applying defaults where possible.
// Signing secrets and the Postgres DSN have no defaults: a missing value is a startup error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	accessTTL, err := getEnvAsPositiveInt("AUTH_ACCESS_TTL_SECONDS", 3600)
	if err != nil {
		return nil, err
	}
	refreshTTL, err := getEnvAsPositiveInt("AUTH_REFRESH_TTL_SECONDS", 604800)
	if err != nil {
		return nil, err
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "delivery-auth"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            redisDB,
			OpTimeoutMsec: getEnvAsInt("CACHE_OP_TIMEOUT_MS", 2000),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			AccessSecret:      strings.TrimSpace(os.Getenv("AUTH_ACCESS_SECRET")),
			RefreshSecret:     strings.TrimSpace(os.Getenv("AUTH_REFRESH_SECRET")),
			AccessTTLSeconds:  accessTTL,
			RefreshTTLSeconds: refreshTTL,
			Issuer:            getEnv("AUTH_ISSUER", "delivery-auth"),
			ClockSkewSeconds:  getEnvAsInt("AUTH_CLOCK_SKEW_SECONDS", 0),
			BcryptCost:        getEnvAsInt("AUTH_BCRYPT_COST", 12),
			SessionKeepAlive:  getEnvAsBool("AUTH_SESSION_KEEPALIVE", false),
			RefreshCookieName: getEnv("AUTH_REFRESH_COOKIE_NAME", "refresh_token"),
			CookieSecure:      getEnvAsBool("AUTH_COOKIE_SECURE", true),
			NoticeChannel:     getEnv("AUTH_SECURITY_NOTICE_CHANNEL", "email"),
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute: getEnvAsInt("RATELIMIT_LOGIN_PER_MINUTE", 10),
			LoginBurst:     getEnvAsInt("RATELIMIT_LOGIN_BURST", 5),
		},
	}

	if err := errors.Join(cfg.Postgres.Validate(), cfg.Auth.Validate()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks presence of the DSN.
func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.DSN) == "" {
		return errors.New("POSTGRES_DSN is required")
	}
	return nil
}

// Validate checks presence of the signing secrets. Key strength is checked by auth.NewSigningKeys.
func (a AuthConfig) Validate() error {
	var errs []error
	if a.AccessSecret == "" {
		errs = append(errs, errors.New("AUTH_ACCESS_SECRET is required"))
	}
	if a.RefreshSecret == "" {
		errs = append(errs, errors.New("AUTH_REFRESH_SECRET is required"))
	}
	if a.ClockSkewSeconds < 0 {
		errs = append(errs, errors.New("AUTH_CLOCK_SKEW_SECONDS must not be negative"))
	}
	return errors.Join(errs...)
}

// AccessTTL returns the access token lifetime.
func (a AuthConfig) AccessTTL() time.Duration {
	return time.Duration(a.AccessTTLSeconds) * time.Second
}

// RefreshTTL returns the refresh token lifetime, which is also the session pointer TTL.
func (a AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(a.RefreshTTLSeconds) * time.Second
}

// ClockSkew returns the tolerated clock skew when checking expiry.
func (a AuthConfig) ClockSkew() time.Duration {
	return time.Duration(a.ClockSkewSeconds) * time.Second
}

// OpTimeout returns the per-operation deadline applied to cache calls.
func (r RedisConfig) OpTimeout() time.Duration {
	if r.OpTimeoutMsec <= 0 {
		return 2 * time.Second
	}
	return time.Duration(r.OpTimeoutMsec) * time.Millisecond
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvAsPositiveInt fails on malformed or non-positive values instead of falling back.
func getEnvAsPositiveInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return parsed, nil
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
