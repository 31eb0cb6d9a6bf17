// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Postgres connection string (sqlite paths accepted for local runs)
	DatabaseURL string

	// Price feed settings
	PriceFeedURL string
	PriceFeedKey string

	// Base URLs for points providers
	EthenaURL      string
	MerklURL       string
	HyperliquidURL string
	StrataURL      string

	// Outbound request behaviour
	RequestTimeout time.Duration
	FetchRPS       float64
	FetchBurst     int

	// Pipeline settings
	MinPersistInterval time.Duration
	FetchConcurrency   int

	// OpenTelemetry endpoint for observability
	OtelEndpoint string
}

// Load creates a new Config from environment variables
func Load() Config {
	return Config{
		Port:               GetEnvOrDefault("PORT", "8080"),
		DatabaseURL:        GetEnvOrDefault("DATABASE_URL", ""),
		PriceFeedURL:       GetEnvOrDefault("PRICE_FEED_URL", "https://pro-api.coinmarketcap.com/v2/cryptocurrency/quotes/latest"),
		PriceFeedKey:       GetEnvOrDefault("PRICE_FEED_API_KEY", ""),
		EthenaURL:          GetEnvOrDefault("ETHENA_URL", "https://app.ethena.fi/api/referral/get-referree"),
		MerklURL:           GetEnvOrDefault("MERKL_URL", "https://api.merkl.xyz/v3/rewards"),
		HyperliquidURL:     GetEnvOrDefault("HYPERLIQUID_URL", "https://api.hyperliquid.xyz/info"),
		StrataURL:          GetEnvOrDefault("STRATA_URL", "https://app.strata.money/points"),
		RequestTimeout:     GetEnvAsDuration("REQUEST_TIMEOUT", 15*time.Second),
		FetchRPS:           GetEnvAsFloat("FETCH_RPS", 8.0),
		FetchBurst:         GetEnvAsInt("FETCH_BURST", 16),
		MinPersistInterval: GetEnvAsDuration("MIN_PERSIST_INTERVAL", 4*time.Hour),
		FetchConcurrency:   GetEnvAsInt("FETCH_CONCURRENCY", 4),
		OtelEndpoint:       GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
