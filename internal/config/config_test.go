package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "LISTEN_ADDR", "DATABASE_PATH", "AI_TIMEOUT", "DIGEST_LOOKBACK_DAYS", "JWT_SECRET", "SESSION_SECRET", "CORS_ORIGINS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.ListenAddr)
	}
	if cfg.DatabasePath != "moodjournal.db" {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.AITimeout != 60*time.Second {
		t.Fatalf("unexpected ai timeout %v", cfg.AITimeout)
	}
	if cfg.DigestLookback != 30 {
		t.Fatalf("unexpected lookback %d", cfg.DigestLookback)
	}
	if cfg.JWTSecret != cfg.SessionSecret {
		t.Fatalf("jwt secret should fall back to session secret")
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("AI_TIMEOUT", "15s")
	t.Setenv("DIGEST_LOOKBACK_DAYS", "7")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.ListenAddr)
	}
	if cfg.AITimeout != 15*time.Second {
		t.Fatalf("unexpected ai timeout %v", cfg.AITimeout)
	}
	if cfg.DigestLookback != 7 {
		t.Fatalf("unexpected lookback %d", cfg.DigestLookback)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "timezone = \"Europe/Berlin\"\nstore_driver = \"memory\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StoreDriver != "memory" {
		t.Fatalf("expected memory store driver, got %q", cfg.StoreDriver)
	}
	if cfg.Location().String() != "Europe/Berlin" {
		t.Fatalf("unexpected location %s", cfg.Location())
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := AppConfig{Timezone: "Not/AZone"}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC fallback, got %s", cfg.Location())
	}
}

func TestUsesDefaultSecret(t *testing.T) {
	for _, key := range []string{"JWT_SECRET", "SESSION_SECRET"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionSecret != DefaultSessionSecret || !cfg.UsesDefaultSecret() {
		t.Fatal("missing SESSION_SECRET should be reported as the default secret")
	}

	t.Setenv("SESSION_SECRET", "prod-session")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UsesDefaultSecret() {
		t.Fatal("explicit SESSION_SECRET should not be reported as default")
	}
	if cfg.JWTSecret != "prod-session" {
		t.Fatalf("jwt secret should follow session secret, got %q", cfg.JWTSecret)
	}

	t.Setenv("JWT_SECRET", DefaultSessionSecret)
	if cfg, _ = Load(""); !cfg.UsesDefaultSecret() {
		t.Fatal("jwt secret equal to the default should be reported")
	}
}
