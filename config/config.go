package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	APIKey   string
	BaseURL  string
	Estimate int

	// MaxConcurrency caps requests in flight across the whole run. It also
	// bounds how many (table, location) series are dispatched at once and
	// the year workers inside each series; the session cap holds the total.
	MaxConcurrency    int
	RateLimitMs       int
	MaxRetries        int
	RetryBaseDelayMs  int
	RequestTimeoutSec int

	EarliestYear int
	LatestYear   int

	CatalogDir    string
	LocationsFile string
	CSVOutputPath string

	LogLevel string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() *Config {
	return &Config{
		APIKey:   getEnv("ACS_API_KEY", getEnv("API_KEY_ACS", "")),
		BaseURL:  getEnv("ACS_BASE_URL", "https://api.census.gov/data"),
		Estimate: getEnvInt("ACS_ESTIMATE", 5),

		MaxConcurrency:    getEnvInt("MAX_CONCURRENCY", 8),
		RateLimitMs:       getEnvInt("RATE_LIMIT_MS", 0),
		MaxRetries:        getEnvInt("MAX_RETRIES", 1),
		RetryBaseDelayMs:  getEnvInt("RETRY_BASE_DELAY_MS", 500),
		RequestTimeoutSec: getEnvInt("REQUEST_TIMEOUT_SEC", 30),

		EarliestYear: getEnvInt("EARLIEST_YEAR", 2009),
		LatestYear:   getEnvInt("LATEST_YEAR", 2023),

		CatalogDir:    getEnv("CATALOG_DIR", "./tableids"),
		LocationsFile: getEnv("LOCATIONS_FILE", "./data/locations.csv"),
		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", "./output/acs.csv"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		PostgresHost:     getEnv("POSTGRES_HOST", ""),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "acs"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getEnv("POSTGRES_DB", "acs_reports"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
	}
}

// PostgresEnabled reports whether a reporting database was configured.
func (c *Config) PostgresEnabled() bool {
	return c.PostgresHost != ""
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
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
