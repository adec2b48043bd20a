package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Database. "postgres" in deployments, "sqlite" for local development.
	DBDriver   string
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string
	DBPath     string

	// Optional redis for the quota fast path. Empty disables it.
	RedisURL string

	JWTSecret string

	// Process-level fallback secrets used when a tenant has no stored
	// credential secret. Passed into the verification chain explicitly,
	// never read from the environment inside business logic.
	MetaAppSecret    string
	MetaVerifyToken  string
	TwilioAuthToken  string
	WebhookSecret    string
	DefaultDayQuota  int
	GraphAPIBaseURL  string
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: Error loading .env file")
	}

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "whatsapp_platform"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		DBPath:     getEnv("DB_PATH", "./whatsapp.db"),

		RedisURL: getEnv("REDIS_URL", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		MetaAppSecret:   getEnv("META_APP_SECRET", ""),
		MetaVerifyToken: getEnv("META_VERIFY_TOKEN", ""),
		TwilioAuthToken: getEnv("TWILIO_AUTH_TOKEN", ""),
		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),
		DefaultDayQuota: getEnvInt("DEFAULT_DAY_QUOTA", 1000),
		GraphAPIBaseURL: getEnv("GRAPH_API_BASE_URL", "https://graph.facebook.com/v19.0"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
