package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ALLOWED_ORIGIN", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD",
		"REDIS_DB", "SETTINGS_TTL_SECONDS", "AUTH_SECRET", "ACCESS_TOKEN_TTL_MINUTES",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("port = %q, want 8080", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("address = %q, want :8080", cfg.Address())
	}
	if cfg.SettingsTTLSeconds != 60 {
		t.Fatalf("settings ttl = %d, want 60", cfg.SettingsTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("token ttl = %d, want 480", cfg.AccessTokenTTLMinutes)
	}
	// No secret default: the server refuses to start without one.
	if cfg.AuthSecret != "" {
		t.Fatalf("auth secret defaulted to %q, want empty", cfg.AuthSecret)
	}
	if cfg.DatabaseURL != "" || cfg.RedisAddr != "" {
		t.Fatalf("unexpected backend defaults: db=%q redis=%q", cfg.DatabaseURL, cfg.RedisAddr)
	}
}

func TestLoadOverridesAndFallbacks(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SETTINGS_TTL_SECONDS", "banana")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")
	t.Setenv("AUTH_SECRET", "  trimmed-secret  ")
	t.Setenv("REDIS_DB", "3")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Fatalf("port = %q, want 9090", cfg.Port)
	}
	if cfg.SettingsTTLSeconds != 60 {
		t.Fatalf("bad ttl must fall back to 60, got %d", cfg.SettingsTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("negative token ttl must fall back to 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.AuthSecret != "trimmed-secret" {
		t.Fatalf("auth secret = %q, want trimmed", cfg.AuthSecret)
	}
	if cfg.RedisDB != 3 {
		t.Fatalf("redis db = %d, want 3", cfg.RedisDB)
	}
}
