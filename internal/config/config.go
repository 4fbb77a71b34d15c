package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストレージドライバー。
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StoreDriver   string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	// OpenID
	OpenIDCAPath                string
	OpenIDCAInfo                string
	OpenIDVerifyClient          bool
	OpenIDSyncData              bool
	OpenIDHTTPTimeout           time.Duration
	OpenIDAllowPrivateProviders bool
	OpenIDDiscoveryCacheTTL     time.Duration
	OpenIDNonceMaxAge           time.Duration

	// Account
	DefaultLanguage string

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Nonce store (Redis). RedisAddrが空の場合はメモリ上に保持する。
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Rate Limit (req/min)
	RateLimitGeneral int
	RateLimitLogin   int

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
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.StoreDriver = getEnvString("STORE_DRIVER", StoreDriverPostgres)
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreDriverMongo:
		cfg.MongoURI = os.Getenv("MONGO_URI")
		if cfg.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q (want %q or %q)", cfg.StoreDriver, StoreDriverPostgres, StoreDriverMongo)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.MongoDatabase = getEnvString("MONGO_DATABASE", "soopfw")

	cfg.OpenIDCAPath = getEnvString("OPENID_CAPATH", "")
	cfg.OpenIDCAInfo = getEnvString("OPENID_CAINFO", "")
	cfg.OpenIDVerifyClient = getEnvBool("OPENID_VERIFY_CLIENT", false)
	cfg.OpenIDSyncData = getEnvBool("OPENID_SYNC_DATA", true)
	cfg.OpenIDHTTPTimeout = getEnvDuration("OPENID_HTTP_TIMEOUT", 10*time.Second)
	cfg.OpenIDAllowPrivateProviders = getEnvBool("OPENID_ALLOW_PRIVATE_PROVIDERS", false)
	cfg.OpenIDDiscoveryCacheTTL = getEnvDuration("OPENID_DISCOVERY_CACHE_TTL", time.Hour)
	cfg.OpenIDNonceMaxAge = getEnvDuration("OPENID_NONCE_MAX_AGE", 5*time.Minute)

	cfg.DefaultLanguage = getEnvString("DEFAULT_LANGUAGE", "en")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)

	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 30)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

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

// getEnvBool は "1", "true", "yes", "on"（大文字小文字を問わない）を真とみなす。
func getEnvBool(key string, defaultVal bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return defaultVal
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultVal
	}
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
