package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"log"
)

type Config struct {
	PostgresDSN string
	ServerPort  string
	DebugMode   string
}

func Load() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using environment variables")
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "postgres"),
		getEnv("POSTGRES_PASSWORD", "postgres"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "eldorado"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)

	return &Config{
		PostgresDSN: dsn,
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		DebugMode:   getEnv("DEBUGMODE", "True"),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
