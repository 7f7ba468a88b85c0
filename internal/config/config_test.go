package config

import (
	"strings"
	"testing"
	"time"
)

func clearAuthEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "HTTP_ADDR", "DATABASE_URL", "REDIS_ADDR",
		"JWT_ACCESS_SECRET", "REFRESH_TOKEN_PEPPER", "OAUTH_STATE_KEY",
		"ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL",
		"AUTH_GOOGLE_ENABLED", "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_REDIRECT_URI",
		"API_RATE_LIMIT_RPM", "AUTH_RATE_LIMIT_RPM", "RATE_LIMIT_WINDOW",
		"RATE_LIMITER_MODE", "SESSION_CACHE_MODE", "COOKIE_SECURE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDevelopmentDefaults(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Profile != "development" {
		t.Fatalf("profile=%q", cfg.Profile)
	}
	if len(cfg.JWTAccessSecret) < 32 {
		t.Fatal("development secret must satisfy the length floor")
	}
	if cfg.CookieSecure {
		t.Fatal("development cookies default to insecure")
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("access ttl=%s", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 30*24*time.Hour {
		t.Fatalf("refresh ttl=%s", cfg.RefreshTokenTTL)
	}
	if cfg.RateLimiterMode != FailClosed {
		t.Fatalf("limiter mode=%s want fail_closed", cfg.RateLimiterMode)
	}
	if cfg.SessionCacheMode != FailOpen {
		t.Fatalf("cache mode=%s want fail_open", cfg.SessionCacheMode)
	}
}

func TestLoadRejectsUnknownProfile(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("APP_ENV", "staging")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestLoadProductionRequiresRealSecrets(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/auth")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_ACCESS_SECRET", "development-access-secret-32bytes!")
	t.Setenv("REFRESH_TOKEN_PEPPER", strings.Repeat("p", 32))

	if _, err := Load(); err == nil {
		t.Fatal("expected rejection of development secret in production")
	}

	t.Setenv("JWT_ACCESS_SECRET", strings.Repeat("s", 32))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.CookieSecure {
		t.Fatal("production cookies must default to secure")
	}
}

func TestLoadProductionRequiresBackingStores(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_ACCESS_SECRET", strings.Repeat("s", 32))
	t.Setenv("REFRESH_TOKEN_PEPPER", strings.Repeat("p", 32))

	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadRejectsShortSecrets(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_ACCESS_SECRET", "short")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestLoadRejectsInvertedTTLs(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("ACCESS_TOKEN_TTL", "1h")
	t.Setenv("REFRESH_TOKEN_TTL", "30m")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when refresh ttl does not exceed access ttl")
	}
}

func TestLoadGoogleRequiresCompleteConfig(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("AUTH_GOOGLE_ENABLED", "true")
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for incomplete google config")
	}

	t.Setenv("GOOGLE_CLIENT_SECRET", "client-secret")
	t.Setenv("GOOGLE_REDIRECT_URI", "http://localhost:8080/api/v1/auth/google/callback")
	if _, err := Load(); err != nil {
		t.Fatalf("load with complete google config: %v", err)
	}
}

func TestFailureModeParsing(t *testing.T) {
	if failureMode("fail_open") != FailOpen {
		t.Fatal("fail_open should parse")
	}
	if failureMode("anything-else") != FailClosed {
		t.Fatal("unknown modes default to fail_closed")
	}
}
