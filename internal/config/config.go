package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// minSecretLength はHMAC署名に使うシークレットの最小バイト数。
const minSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（セッション失効リスト）
	RedisURL string

	// Session
	SessionSecret string

	// ID Token（外部IdPが発行するIDトークンの検証）
	IDTokenIssuer       string
	IDTokenAudience     string
	IDTokenJWKSURL      string
	IDTokenHMACSecret   string
	IDTokenMaxAuthAge   time.Duration
	JWKSRefreshInterval time.Duration
	ProviderTimeout     time.Duration

	// Sign-in
	EnforceTokenOwner bool

	// Rate Limit（req/min）
	RateLimitSignIn  int
	RateLimitGeneral int

	// Logging
	LogLevel string

	// Server
	ServerPort        string
	BaseURL           string
	TrustProxyHeaders bool

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.IDTokenIssuer = os.Getenv("IDTOKEN_ISSUER")
	if cfg.IDTokenIssuer == "" {
		missing = append(missing, "IDTOKEN_ISSUER")
	}

	cfg.IDTokenAudience = os.Getenv("IDTOKEN_AUDIENCE")
	if cfg.IDTokenAudience == "" {
		missing = append(missing, "IDTOKEN_AUDIENCE")
	}

	// JWKS URLとHMACシークレットはどちらか一方が必須
	cfg.IDTokenJWKSURL = os.Getenv("IDTOKEN_JWKS_URL")
	cfg.IDTokenHMACSecret = os.Getenv("IDTOKEN_HMAC_SECRET")
	if cfg.IDTokenJWKSURL == "" && cfg.IDTokenHMACSecret == "" {
		missing = append(missing, "IDTOKEN_JWKS_URL or IDTOKEN_HMAC_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.SessionSecret) < minSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSecretLength)
	}
	if cfg.IDTokenHMACSecret != "" && len(cfg.IDTokenHMACSecret) < minSecretLength {
		return nil, fmt.Errorf("IDTOKEN_HMAC_SECRET must be at least %d bytes", minSecretLength)
	}

	// Optional fields with defaults
	cfg.IDTokenMaxAuthAge = getEnvDuration("IDTOKEN_MAX_AUTH_AGE", 5*time.Minute)
	cfg.JWKSRefreshInterval = getEnvDuration("JWKS_REFRESH_INTERVAL", time.Hour)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.EnforceTokenOwner = getEnvBool("SIGNIN_ENFORCE_TOKEN_OWNER", true)
	cfg.RateLimitSignIn = getEnvPositiveInt("RATE_LIMIT_SIGN_IN", 10)
	cfg.RateLimitGeneral = getEnvPositiveInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", strings.HasPrefix(cfg.BaseURL, "https://"))
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// getEnvPositiveInt は0以下の値を未設定と同じく既定値として扱う。
func getEnvPositiveInt(key string, defaultVal int) int {
	if i := getEnvInt(key, defaultVal); i > 0 {
		return i
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
