package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         string
	Environment  string
	StoreBackend string // "sqlite" or "file"
	DatabasePath string
	DataRoot     string
	JWTSecret    string
	CORSOrigins  string
	StoreTimeout time.Duration
	LogLevel     string
}

// Load reads configuration from the environment. An env file named by
// SINAS_ENV_FILE (or a ./.env if present) is loaded first; real
// environment variables always win over file entries.
func Load() *Config {
	if path, ok := os.LookupEnv("SINAS_ENV_FILE"); ok {
		_ = godotenv.Load(path)
	} else {
		_ = godotenv.Load()
	}

	return &Config{
		Port:         getEnv("PORT", "8080"),
		Environment:  getEnv("ENVIRONMENT", "development"),
		StoreBackend: getEnv("STORE_BACKEND", "sqlite"),
		DatabasePath: getEnv("DATABASE_PATH", "./data/sinas.db"),
		DataRoot:     getEnv("DATA_ROOT", "./data"),
		JWTSecret:    getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		CORSOrigins:  getEnv("CORS_ORIGINS", "*"),
		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 5*time.Second),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		return defaultValue
	}
	return d
}
