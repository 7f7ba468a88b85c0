package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

type Config struct {
	Profile string
	Addr    string

	DatabaseURL string
	RedisAddr   string
	RedisUser   string
	RedisPass   string

	JWTIssuer       string
	JWTAudience     string
	JWTAccessSecret string
	RefreshPepper   string
	OAuthStateKey   string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	AuthGoogleEnabled       bool
	AuthGoogleAutoLinkEmail bool
	GoogleClientID          string
	GoogleClientSecret      string
	GoogleRedirectURL       string
	OAuthExchangeTimeout    time.Duration

	APIRateLimitRPM   int
	AuthRateLimitRPM  int
	RateLimitWindow   time.Duration
	RateLimiterMode   FailureMode
	SessionCacheMode  FailureMode
	CacheRetryBackoff time.Duration

	CORSOrigins   []string
	CookieSecure  bool
	BodyLimitByte int64

	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELMetricsExportInterval time.Duration
}

// Load reads configuration from the environment and validates it for the
// selected profile. Production refuses to start on placeholder secrets.
func Load() (*Config, error) {
	cfg := &Config{
		Profile: envStr("APP_ENV", "development"),
		Addr:    envStr("HTTP_ADDR", ":8080"),

		DatabaseURL: envStr("DATABASE_URL", ""),
		RedisAddr:   envStr("REDIS_ADDR", ""),
		RedisUser:   envStr("REDIS_USERNAME", ""),
		RedisPass:   envStr("REDIS_PASSWORD", ""),

		JWTIssuer:       envStr("JWT_ISSUER", "medico24-auth"),
		JWTAudience:     envStr("JWT_AUDIENCE", "medico24-api"),
		JWTAccessSecret: envStr("JWT_ACCESS_SECRET", ""),
		RefreshPepper:   envStr("REFRESH_TOKEN_PEPPER", ""),
		OAuthStateKey:   envStr("OAUTH_STATE_KEY", ""),

		AccessTokenTTL:  envDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: envDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),

		AuthGoogleEnabled:       envBool("AUTH_GOOGLE_ENABLED", false),
		AuthGoogleAutoLinkEmail: envBool("AUTH_GOOGLE_AUTO_LINK_EMAIL", false),
		GoogleClientID:          envStr("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:      envStr("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:       envStr("GOOGLE_REDIRECT_URI", ""),
		OAuthExchangeTimeout:    envDuration("OAUTH_EXCHANGE_TIMEOUT", 10*time.Second),

		APIRateLimitRPM:   envInt("API_RATE_LIMIT_RPM", 300),
		AuthRateLimitRPM:  envInt("AUTH_RATE_LIMIT_RPM", 60),
		RateLimitWindow:   envDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimiterMode:   failureMode(envStr("RATE_LIMITER_MODE", string(FailClosed))),
		SessionCacheMode:  failureMode(envStr("SESSION_CACHE_MODE", string(FailOpen))),
		CacheRetryBackoff: envDuration("CACHE_RETRY_BACKOFF", 50*time.Millisecond),

		CORSOrigins:   splitCSV(envStr("CORS_ORIGINS", "http://localhost:3000")),
		CookieSecure:  envBool("COOKIE_SECURE", true),
		BodyLimitByte: int64(envInt("BODY_LIMIT_BYTES", 1<<20)),

		OTELMetricsEnabled:        envBool("OTEL_METRICS_ENABLED", false),
		OTELTracesEnabled:         envBool("OTEL_TRACES_ENABLED", false),
		OTELLogsEnabled:           envBool("OTEL_LOGS_ENABLED", false),
		OTELExporterOTLPEndpoint:  envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELServiceName:           envStr("OTEL_SERVICE_NAME", "medico24-auth"),
		OTELEnvironment:           envStr("OTEL_ENVIRONMENT", "development"),
		OTELMetricsExportInterval: envDuration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),
	}

	if cfg.Profile == "development" {
		applyDevelopmentDefaults(cfg)
	}

	if err := cfg.validate(); err != nil {
		recordConfigValidationEvent(context.Background(), cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, fmt.Errorf("validate config: %w", err)
	}
	recordConfigValidationEvent(context.Background(), cfg.Profile, "success", "none")
	return cfg, nil
}

func applyDevelopmentDefaults(cfg *Config) {
	if cfg.JWTAccessSecret == "" {
		cfg.JWTAccessSecret = "development-access-secret-32bytes!"
	}
	if cfg.RefreshPepper == "" {
		cfg.RefreshPepper = "development-refresh-pepper-32byte!"
	}
	if cfg.OAuthStateKey == "" {
		cfg.OAuthStateKey = "development-oauth-state-key-32by!"
	}
	if !envBool("COOKIE_SECURE", false) {
		cfg.CookieSecure = false
	}
}

func (c *Config) validate() error {
	if c.Profile != "development" && c.Profile != "production" {
		return fmt.Errorf("unknown profile %q", c.Profile)
	}
	if len(c.JWTAccessSecret) < 32 {
		return fmt.Errorf("JWT_ACCESS_SECRET must be at least 32 bytes")
	}
	if len(c.RefreshPepper) < 32 {
		return fmt.Errorf("REFRESH_TOKEN_PEPPER must be at least 32 bytes")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("token TTLs invalid: access=%s refresh=%s", c.AccessTokenTTL, c.RefreshTokenTTL)
	}
	if c.Profile == "production" {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required in production")
		}
		if strings.HasPrefix(c.JWTAccessSecret, "development-") ||
			strings.HasPrefix(c.RefreshPepper, "development-") {
			return fmt.Errorf("development secrets are not allowed in production")
		}
	}
	if c.AuthGoogleEnabled {
		if c.GoogleClientID == "" || c.GoogleClientSecret == "" || c.GoogleRedirectURL == "" {
			return fmt.Errorf("google oauth enabled but GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET/GOOGLE_REDIRECT_URI incomplete")
		}
		if len(c.OAuthStateKey) < 32 {
			return fmt.Errorf("OAUTH_STATE_KEY must be at least 32 bytes")
		}
	}
	if c.APIRateLimitRPM <= 0 || c.AuthRateLimitRPM <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func failureMode(v string) FailureMode {
	if FailureMode(v) == FailOpen {
		return FailOpen
	}
	return FailClosed
}
