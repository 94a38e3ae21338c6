// Package config loads runtime configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultAppName = "OTPay"
	defaultAppEnv  = "development"
	defaultPort    = "8080"
)

// Config captures application runtime configuration.
type Config struct {
	AppName  string `mapstructure:"APP_NAME"`
	AppEnv   string `mapstructure:"APP_ENV"`
	Port     string `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	StoreTimeout   time.Duration `mapstructure:"STORE_TIMEOUT"`
	ShutdownPeriod time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	IdempotencyTTL time.Duration `mapstructure:"IDEMPOTENCY_TTL"`

	JWTSecret          string        `mapstructure:"JWT_SECRET"`
	AccessTokenTTL     time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	BcryptCost         int           `mapstructure:"BCRYPT_COST"`
	LoginRatePerMinute int           `mapstructure:"LOGIN_RATE_PER_MINUTE"`

	// OTP challenge and lockout policy.
	OTPCodeLength    int           `mapstructure:"OTP_CODE_LENGTH"`
	OTPTTL           time.Duration `mapstructure:"OTP_TTL"`
	OTPMaxAttempts   int           `mapstructure:"OTP_MAX_ATTEMPTS"`
	OTPAttemptWindow time.Duration `mapstructure:"OTP_ATTEMPT_WINDOW"`
	OTPLockout       time.Duration `mapstructure:"OTP_LOCKOUT"`

	SweepInterval     time.Duration `mapstructure:"SWEEP_INTERVAL"`
	HeartbeatInterval time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`

	// OTLPEndpoint enables trace and metric export when set (host:port of a collector).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
}

// Load reads .env (if present), then the environment, and validates the result.
func Load() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", defaultAppName)
	v.SetDefault("APP_ENV", defaultAppEnv)
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL", "24h")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 5)
	v.SetDefault("OTP_CODE_LENGTH", 6)
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 3)
	v.SetDefault("OTP_ATTEMPT_WINDOW", "5m")
	v.SetDefault("OTP_LOCKOUT", "10m")
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("HEARTBEAT_INTERVAL", "30s")
	v.SetDefault("OTLP_ENDPOINT", "")
}

func (c Config) validate() error {
	if !c.IsDevelopment() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", c.AppEnv)
		}
	}
	if c.OTPCodeLength < 4 || c.OTPCodeLength > 10 {
		return errors.New("config: OTP_CODE_LENGTH must be between 4 and 10")
	}
	if c.OTPMaxAttempts < 1 {
		return errors.New("config: OTP_MAX_ATTEMPTS must be positive")
	}
	if c.OTPTTL <= 0 || c.OTPAttemptWindow <= 0 || c.OTPLockout <= 0 {
		return errors.New("config: OTP durations must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	return nil
}

// IsDevelopment reports whether the app runs in a local environment, where
// Postgres and Redis fall back to in-memory implementations.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
