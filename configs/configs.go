// Package configs provides application configuration loaded from environment variables.
// All configuration is externalized via environment variables for 12-factor app compliance.
package configs

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"almejal/eldorado/internal/timeframe"
)

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	// DBDSN is the Postgres connection string.
	DBDSN string

	// Droplet is this instance's name, used for lease and queue claims.
	Droplet string

	// Exchange selects the venue this process works: ftx, ftxus or gdax.
	Exchange string

	// Mita optionally restricts the instance to markets carrying this tag.
	Mita string

	// TimeFrame is the base candle timeframe for new markets.
	TimeFrame timeframe.TimeFrame

	// HorizonDays bounds how far back a fresh backfill reaches.
	HorizonDays int

	// Workers is the bucket-seal worker pool size per tick.
	Workers int

	// Log contains logger settings.
	Log LogConfig

	// Twilio contains SMS alert delivery settings. Unset disables SMS.
	Twilio TwilioConfig
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is the logrus level name (debug, info, warn, error).
	Level string

	// File is an optional rotated log file path; empty logs to stdout.
	File string
}

// TwilioConfig holds SMS alert credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

// getDatabaseDSN constructs the Postgres DSN from environment variables.
func getDatabaseDSN() string {
	dbUser := getEnv("POSTGRES_USER", "postgres")
	dbPassword := getEnv("POSTGRES_PASSWORD", "postgres")
	dbHost := getEnv("POSTGRES_HOST", "localhost")
	dbPort := getEnv("POSTGRES_PORT", "5432")
	dbName := getEnv("POSTGRES_DB", "eldorado")
	sslMode := getEnv("POSTGRES_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbUser, dbPassword, dbHost, dbPort, dbName, sslMode,
	)
}

// getTimeFrame loads the base timeframe, falling back to t15 on a bad value.
func getTimeFrame() timeframe.TimeFrame {
	tf, err := timeframe.Parse(getEnv("CANDLE_TIMEFRAME", string(timeframe.T15)))
	if err != nil {
		return timeframe.T15
	}
	return tf
}

// AppLoad loads all application configuration from environment variables.
// It attempts to load a .env file first (for local development).
// Call this once at application startup.
func AppLoad() *AppConfig {
	_ = godotenv.Load() // Ignore error - .env is optional

	hostname, _ := os.Hostname()

	return &AppConfig{
		DBDSN:       getDatabaseDSN(),
		Droplet:     getEnv("DROPLET_NAME", hostname),
		Exchange:    getEnv("EXCHANGE", "ftx"),
		Mita:        getEnv("MITA", ""),
		TimeFrame:   getTimeFrame(),
		HorizonDays: getEnvInt("BACKFILL_HORIZON_DAYS", 90),
		Workers:     getEnvInt("SEAL_WORKERS", 4),
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
		Twilio: TwilioConfig{
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			From:       getEnv("TWILIO_FROM", ""),
			To:         getEnv("TWILIO_TO", ""),
		},
	}
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
