package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Price Feed
	FeedProvider string // "rest" or "binance"
	FeedBaseURL  string // Base URL for the REST feed provider
	FeedTimeout  time.Duration

	// Rate Limiting
	MaxRequestsPerWindow int
	WindowDuration       time.Duration
	MinRequestInterval   time.Duration

	// Retry / Backoff
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Cache TTLs
	PriceTTL    time.Duration
	AnalysisTTL time.Duration
	MarketTTL   time.Duration

	// Monitor
	MonitorInterval       time.Duration
	PriceFailureThreshold int // Consecutive lookup failures before a symbol is flagged degraded

	// Portfolio
	StartingBalance float64

	// Database
	DBPath string

	// Reporting API
	WebListenAddr string

	// Notifications (optional)
	TelegramToken  string
	TelegramChatID int64

	// Logging
	LogLevel string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Price Feed
	cfg.FeedProvider = strings.ToLower(getEnv("FEED_PROVIDER", "rest"))
	if cfg.FeedProvider != "rest" && cfg.FeedProvider != "binance" {
		errs = append(errs, fmt.Sprintf("FEED_PROVIDER must be 'rest' or 'binance', got %q", cfg.FeedProvider))
	}
	cfg.FeedBaseURL = getEnv("FEED_BASE_URL", "https://api.coingecko.com/api/v3")
	if cfg.FeedProvider == "rest" && cfg.FeedBaseURL == "" {
		errs = append(errs, "FEED_BASE_URL must be set for the rest provider")
	}
	cfg.FeedTimeout = getEnvAsDuration("FEED_TIMEOUT_SECONDS", 15*time.Second)

	// Rate Limiting
	cfg.MaxRequestsPerWindow, err = getEnvAsIntRequired("MAX_REQUESTS_PER_WINDOW", 30)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_REQUESTS_PER_WINDOW: %v", err))
	} else if cfg.MaxRequestsPerWindow <= 0 {
		errs = append(errs, "MAX_REQUESTS_PER_WINDOW must be positive")
	}
	cfg.WindowDuration = getEnvAsDuration("RATE_WINDOW_SECONDS", time.Minute)
	if cfg.WindowDuration <= 0 {
		errs = append(errs, "RATE_WINDOW_SECONDS must be positive")
	}
	cfg.MinRequestInterval = getEnvAsDurationMillis("MIN_REQUEST_INTERVAL_MS", 1200*time.Millisecond)
	if cfg.MinRequestInterval < 0 {
		errs = append(errs, "MIN_REQUEST_INTERVAL_MS cannot be negative")
	}

	// Retry / Backoff
	cfg.MaxRetries, err = getEnvAsIntRequired("MAX_RETRIES", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_RETRIES: %v", err))
	} else if cfg.MaxRetries < 0 {
		errs = append(errs, "MAX_RETRIES cannot be negative")
	}
	cfg.BaseDelay = getEnvAsDurationMillis("RETRY_BASE_DELAY_MS", time.Second)
	cfg.MaxDelay = getEnvAsDurationMillis("RETRY_MAX_DELAY_MS", 30*time.Second)
	if cfg.BaseDelay <= 0 || cfg.MaxDelay < cfg.BaseDelay {
		errs = append(errs, "retry delays must satisfy 0 < RETRY_BASE_DELAY_MS <= RETRY_MAX_DELAY_MS")
	}

	// Cache TTLs
	cfg.PriceTTL = getEnvAsDuration("PRICE_CACHE_TTL_SECONDS", 30*time.Second)
	cfg.AnalysisTTL = getEnvAsDuration("ANALYSIS_CACHE_TTL_SECONDS", 5*time.Minute)
	cfg.MarketTTL = getEnvAsDuration("MARKET_CACHE_TTL_SECONDS", 2*time.Minute)
	if cfg.PriceTTL <= 0 || cfg.AnalysisTTL <= 0 || cfg.MarketTTL <= 0 {
		errs = append(errs, "cache TTLs must be positive")
	}

	// Monitor
	cfg.MonitorInterval = getEnvAsDuration("MONITOR_INTERVAL_SECONDS", 20*time.Second)
	if cfg.MonitorInterval <= 0 {
		errs = append(errs, "MONITOR_INTERVAL_SECONDS must be positive")
	}
	cfg.PriceFailureThreshold, err = getEnvAsIntRequired("PRICE_FAILURE_THRESHOLD", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICE_FAILURE_THRESHOLD: %v", err))
	} else if cfg.PriceFailureThreshold <= 0 {
		errs = append(errs, "PRICE_FAILURE_THRESHOLD must be positive")
	}

	// Portfolio
	cfg.StartingBalance, err = getEnvAsFloatRequired("STARTING_BALANCE", 10000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STARTING_BALANCE: %v", err))
	} else if cfg.StartingBalance < 0 {
		errs = append(errs, "STARTING_BALANCE cannot be negative")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/paper_trader.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Reporting API
	cfg.WebListenAddr = getEnv("WEB_LISTEN_ADDR", ":8080")

	// Notifications
	cfg.TelegramToken = getEnv("TELEGRAM_TOKEN", "")
	chatIDStr := getEnv("TELEGRAM_CHAT_ID", "")
	if chatIDStr != "" {
		cfg.TelegramChatID, err = strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid TELEGRAM_CHAT_ID: %v", err))
		}
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		errs = append(errs, "TELEGRAM_CHAT_ID must be set when TELEGRAM_TOKEN is set")
	}

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	seconds, err := strconv.Atoi(valueStr)
	if err != nil || seconds < 0 {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}

func getEnvAsDurationMillis(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	millis, err := strconv.Atoi(valueStr)
	if err != nil || millis < 0 {
		return defaultValue
	}
	return time.Duration(millis) * time.Millisecond
}
