package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration loaded from environment
// variables. TTLs and the post-redirect retry policy are deliberately
// configurable rather than magic constants.
type Config struct {
	AppPort string
	AppEnv  string

	// PublicOrigin is this service's externally visible origin, used
	// for same-origin return-URL validation.
	PublicOrigin string

	// DeepLinkSchemes are allow-listed custom schemes (desktop builds)
	// a return URL may use, e.g. "mydatahub".
	DeepLinkSchemes []string

	GatewayBaseURL    string
	GatewayAPIKey     string
	GatewayServiceKey string
	GatewayJWTSecret  string
	GatewayIssuer     string
	GatewayClientID   string
	OAuthProviders    []string

	RedisAddr     string
	RedisPassword string

	DatabaseDSN string

	SessionTTL   time.Duration
	OTPTTL       time.Duration
	MagicLinkTTL time.Duration
	NonceTTL     time.Duration

	// SessionRetryAttempts/Delay bound the "no session yet right
	// after redirect" retry.
	SessionRetryAttempts int
	SessionRetryDelay    time.Duration

	OnboardingPath string
	DefaultPath    string
	CallbackPath   string
}

// Load reads configuration from the environment, after merging an
// optional .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppPort: getEnv("APP_PORT", "8080"),
		AppEnv:  getEnv("APP_ENV", "development"),

		PublicOrigin:    getEnv("PUBLIC_ORIGIN", "http://localhost:8080"),
		DeepLinkSchemes: splitList(getEnv("DEEP_LINK_SCHEMES", "")),

		GatewayBaseURL:    os.Getenv("GATEWAY_BASE_URL"),
		GatewayAPIKey:     os.Getenv("GATEWAY_API_KEY"),
		GatewayServiceKey: os.Getenv("GATEWAY_SERVICE_KEY"),
		GatewayJWTSecret:  os.Getenv("GATEWAY_JWT_SECRET"),
		GatewayIssuer:     os.Getenv("GATEWAY_ISSUER"),
		GatewayClientID:   getEnv("GATEWAY_CLIENT_ID", "vault-auth"),
		OAuthProviders:    splitList(getEnv("OAUTH_PROVIDERS", "google,github")),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		DatabaseDSN: os.Getenv("DATABASE_DSN"),

		SessionTTL:   getEnvDuration("SESSION_TTL", 24*time.Hour),
		OTPTTL:       getEnvDuration("OTP_TTL", 10*time.Minute),
		MagicLinkTTL: getEnvDuration("MAGIC_LINK_TTL", 60*time.Minute),
		NonceTTL:     getEnvDuration("WEB3_NONCE_TTL", 5*time.Minute),

		SessionRetryAttempts: getEnvInt("AUTH_SESSION_RETRY_ATTEMPTS", 1),
		SessionRetryDelay:    getEnvDuration("AUTH_SESSION_RETRY_DELAY", 500*time.Millisecond),

		OnboardingPath: getEnv("ONBOARDING_PATH", "/onboarding"),
		DefaultPath:    getEnv("DEFAULT_PATH", "/dashboard"),
		CallbackPath:   getEnv("CALLBACK_PATH", "/auth/callback"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
