package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SINAS_ENV_FILE", "PORT", "ENVIRONMENT", "STORE_BACKEND", "DATABASE_PATH",
		"DATA_ROOT", "JWT_SECRET", "CORS_ORIGINS", "STORE_TIMEOUT", "LOG_LEVEL",
	} {
		_ = os.Unsetenv(key)
	}
}

func writeEnvFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	return path
}

func TestLoadReadsExplicitEnvFile(t *testing.T) {
	clearEnv(t)

	envPath := writeEnvFile(t, `
PORT=9090
ENVIRONMENT=production
STORE_BACKEND=file
DATA_ROOT=/var/lib/sinas
JWT_SECRET=super-secret
STORE_TIMEOUT=2s
`)
	t.Setenv("SINAS_ENV_FILE", envPath)

	cfg := Load()

	if cfg.Port != "9090" {
		t.Fatalf("Port = %q, want %q", cfg.Port, "9090")
	}
	if cfg.Environment != "production" {
		t.Fatalf("Environment = %q, want %q", cfg.Environment, "production")
	}
	if cfg.StoreBackend != "file" {
		t.Fatalf("StoreBackend = %q, want %q", cfg.StoreBackend, "file")
	}
	if cfg.DataRoot != "/var/lib/sinas" {
		t.Fatalf("DataRoot = %q", cfg.DataRoot)
	}
	if cfg.JWTSecret != "super-secret" {
		t.Fatalf("JWTSecret = %q", cfg.JWTSecret)
	}
	if cfg.StoreTimeout != 2*time.Second {
		t.Fatalf("StoreTimeout = %v, want 2s", cfg.StoreTimeout)
	}
}

func TestLoadEnvVarOverridesEnvFile(t *testing.T) {
	clearEnv(t)

	envPath := writeEnvFile(t, `
PORT=9090
DATABASE_PATH=/var/lib/sinas/sinas.db
`)
	t.Setenv("SINAS_ENV_FILE", envPath)
	t.Setenv("PORT", "7777")

	cfg := Load()

	if cfg.Port != "7777" {
		t.Fatalf("Port = %q, want %q", cfg.Port, "7777")
	}
	if cfg.DatabasePath != "/var/lib/sinas/sinas.db" {
		t.Fatalf("DatabasePath = %q", cfg.DatabasePath)
	}
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.StoreBackend != "sqlite" {
		t.Fatalf("StoreBackend = %q, want %q", cfg.StoreBackend, "sqlite")
	}
	if cfg.DatabasePath != "./data/sinas.db" {
		t.Fatalf("DatabasePath = %q, want default", cfg.DatabasePath)
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Fatalf("StoreTimeout = %v, want 5s", cfg.StoreTimeout)
	}
}

func TestStoreTimeoutAcceptsBareSeconds(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_TIMEOUT", "10")

	cfg := Load()
	if cfg.StoreTimeout != 10*time.Second {
		t.Fatalf("StoreTimeout = %v, want 10s", cfg.StoreTimeout)
	}
}
