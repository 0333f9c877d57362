// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every setting the service reads at startup.
type Config struct {
	Port string

	DBPath      string
	DatabaseURL string
	DBDebug     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	GatewayTimeout     time.Duration
	GatewayMaxInFlight int64

	TrustClientRoom    bool
	CORSAllowedOrigins string
	WSRateLimit        float64
	WSRateBurst        int
	WSMaxMessageBytes  int64
	WSSendBuffer       int

	AllowedEmailDomain string
	ShutdownTimeout    time.Duration
}

// Load reads the configuration from the environment, falling back to
// defaults for unset or unparsable values.
func Load() Config {
	return Config{
		Port: getEnv("PORT", "3000"),

		DBPath:      getEnv("DB_PATH", "presence_chat.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBDebug:     getEnvBool("DB_DEBUG", false),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		CacheTTL:      getEnvDuration("CACHE_TTL", 5*time.Minute),

		GatewayTimeout:     getEnvDuration("GATEWAY_TIMEOUT", 5*time.Second),
		GatewayMaxInFlight: int64(getEnvInt("GATEWAY_MAX_INFLIGHT", 64)),

		TrustClientRoom:    getEnvBool("TRUST_CLIENT_ROOM", false),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		WSRateLimit:        getEnvFloat("WS_RATE_LIMIT", 10),
		WSRateBurst:        getEnvInt("WS_RATE_BURST", 20),
		WSMaxMessageBytes:  int64(getEnvInt("WS_MAX_MESSAGE_BYTES", 8192)),
		WSSendBuffer:       getEnvInt("WS_SEND_BUFFER", 64),

		AllowedEmailDomain: getEnv("ALLOWED_EMAIL_DOMAIN", "techpaint.com"),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Port); err != nil || port < 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be a port number, got %q", c.Port))
	}
	if c.DatabaseURL == "" && strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("DB_PATH must be set when DATABASE_URL is empty"))
	}
	if c.RedisAddr != "" && c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	if c.GatewayMaxInFlight <= 0 {
		errs = append(errs, errors.New("GATEWAY_MAX_INFLIGHT must be positive"))
	}
	if c.WSRateLimit <= 0 || c.WSRateBurst <= 0 {
		errs = append(errs, errors.New("WS_RATE_LIMIT and WS_RATE_BURST must be positive"))
	}
	if c.WSMaxMessageBytes <= 0 {
		errs = append(errs, errors.New("WS_MAX_MESSAGE_BYTES must be positive"))
	}
	if c.WSSendBuffer <= 0 {
		errs = append(errs, errors.New("WS_SEND_BUFFER must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns environment variable as int or default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: invalid int value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("Warning: invalid number for %s: %s, using default: %g", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Printf("Warning: invalid bool value for %s: %s, using default: %t", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration returns environment variable as duration or default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		log.Printf("Warning: invalid duration value for %s: %s, using default: %s", key, value, defaultValue)
	}
	return defaultValue
}
