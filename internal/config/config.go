package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（審査結果の変更通知チャネル）
	RedisURL string

	// Auth（外部IDプロバイダー）
	AuthBaseURL     string
	AuthAPIKey      string
	AuthJWTSecret   string
	AuthRedirectURL string
	OAuthProvider   string

	// Admin（審査エンドポイントのBearerトークン）
	AdminToken string

	// Provisioning（プロファイル作成リトライ）
	ProvisionMaxAttempts int
	ProvisionBackoffStep time.Duration

	// Callback（OAuthリダイレクト復帰後のセッション出現待ち）
	CallbackMaxAttempts int
	CallbackInterval    time.Duration

	// Rate Limit（req/min/user）
	RateLimitGeneral  int
	RateLimitIDSubmit int

	// Retention
	EventRetentionDays int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool

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

	cfg.AuthBaseURL = os.Getenv("AUTH_BASE_URL")
	if cfg.AuthBaseURL == "" {
		missing = append(missing, "AUTH_BASE_URL")
	}

	cfg.AuthAPIKey = os.Getenv("AUTH_API_KEY")
	if cfg.AuthAPIKey == "" {
		missing = append(missing, "AUTH_API_KEY")
	}

	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")
	if cfg.AuthJWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}

	cfg.AuthRedirectURL = os.Getenv("AUTH_REDIRECT_URL")
	if cfg.AuthRedirectURL == "" {
		missing = append(missing, "AUTH_REDIRECT_URL")
	}

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	if cfg.AdminToken == "" {
		missing = append(missing, "ADMIN_TOKEN")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.OAuthProvider = getEnvString("OAUTH_PROVIDER", "google")
	cfg.ProvisionMaxAttempts = getEnvInt("PROVISION_MAX_ATTEMPTS", 3)
	cfg.ProvisionBackoffStep = getEnvDuration("PROVISION_BACKOFF_STEP", 1*time.Second)
	cfg.CallbackMaxAttempts = getEnvInt("CALLBACK_MAX_ATTEMPTS", 5)
	cfg.CallbackInterval = getEnvDuration("CALLBACK_INTERVAL", 1500*time.Millisecond)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitIDSubmit = getEnvInt("RATE_LIMIT_ID_SUBMIT", 10)
	cfg.EventRetentionDays = getEnvInt("EVENT_RETENTION_DAYS", 90)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
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
