package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port         string
	DatabasePath string

	BaseURL   string
	SearchURL string

	MaxConcurrency    int
	RateLimitMs       int
	MaxRetries        int
	RequestTimeoutSec int

	SettleThreshold int
	ScrollWaitMs    int
	MaxScrollSteps  int

	PriceMin int
	PriceMax int

	DebugSnapshotPath string
	ChromeBin         string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		Port:         getEnv("PORT", "5000"),
		DatabasePath: getEnv("DATABASE_PATH", "data/renault_vehicles.db"),

		BaseURL: getEnv("BASE_URL", "https://fr.renew.auto"),
		SearchURL: getEnv("SEARCH_URL",
			"https://fr.renew.auto/achat-vehicules-occasions.html"+
				"?prices.customerDisplayPrice=19000-25000"+
				"&query=renault%20megane%20e-tech%20electrique"+
				"&finishing.label.raw=Iconic"),

		MaxConcurrency:    getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:       getEnvInt("RATE_LIMIT_MS", 500),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		RequestTimeoutSec: getEnvInt("REQUEST_TIMEOUT_SEC", 15),

		SettleThreshold: getEnvInt("SETTLE_THRESHOLD", 3),
		ScrollWaitMs:    getEnvInt("SCROLL_WAIT_MS", 1500),
		MaxScrollSteps:  getEnvInt("MAX_SCROLL_STEPS", 40),

		PriceMin: getEnvInt("PRICE_MIN", 19000),
		PriceMax: getEnvInt("PRICE_MAX", 25000),

		DebugSnapshotPath: getEnv("DEBUG_SNAPSHOT_PATH", "debug_fail_page.html"),
		ChromeBin:         getEnv("CHROME_BIN", ""),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}
