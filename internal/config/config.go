package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string
	AutoMigrate bool

	// OAuth
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string

	// Roster
	RosterStudents []string
	RosterTeachers []string

	// Session
	SessionMaxAge   int // 秒。0は無期限
	SessionCacheTTL time.Duration
	RedisURL        string

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitLogin   int

	// Worker
	CleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリの.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.GitHubClientID = getEnvString("GITHUB_CLIENT_ID", os.Getenv("GITHUB_OAUTH_CLIENT_ID"))
	if cfg.GitHubClientID == "" {
		missing = append(missing, "GITHUB_CLIENT_ID")
	}

	cfg.GitHubClientSecret = getEnvString("GITHUB_CLIENT_SECRET", os.Getenv("GITHUB_OAUTH_CLIENT_SECRET"))
	if cfg.GitHubClientSecret == "" {
		missing = append(missing, "GITHUB_CLIENT_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DatabaseURL = getEnvString("DATABASE_URL", "sqlite3://dev.sqlite3")
	cfg.AutoMigrate = getEnvBool("AUTO_MIGRATE", true)
	cfg.GitHubRedirectURL = getEnvString("GITHUB_REDIRECT_URL", "")
	cfg.RosterStudents = getEnvList("ROSTER_STUDENTS")
	cfg.RosterTeachers = getEnvList("ROSTER_TEACHERS")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 0)
	cfg.SessionCacheTTL = getEnvDuration("SESSION_CACHE_TTL", 5*time.Minute)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8081")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	if cfg.SessionMaxAge < 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE must not be negative: %d", cfg.SessionMaxAge)
	}
	if cfg.RateLimitGeneral <= 0 || cfg.RateLimitLogin <= 0 {
		return nil, fmt.Errorf("rate limits must be positive: general=%d login=%d", cfg.RateLimitGeneral, cfg.RateLimitLogin)
	}

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

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
