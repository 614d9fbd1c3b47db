package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DBMaxOpenConns int

	// Server
	ServerPort        string
	CuratorHeader     string
	CORSAllowedOrigin string

	// Logging
	LogLevel slog.Level

	// Identity
	RedisURL         string
	IdentityCacheTTL time.Duration
	ProfileCacheTTL  time.Duration
	XRPCBaseURL      string
	XRPCTimeout      time.Duration

	// Metadata
	MetadataFetchEnabled bool
	MetadataFetchTimeout time.Duration
	MetadataFetchMaxSize int64

	// Rate Limit
	RateLimitGeneral int
	RateLimitWrite   int

	// Provenance
	ProvenanceRetentionDays int
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

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 20)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CuratorHeader = getEnvString("CURATOR_HEADER", "X-Curator-DID")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.IdentityCacheTTL = getEnvDuration("IDENTITY_CACHE_TTL", time.Hour)
	cfg.ProfileCacheTTL = getEnvDuration("PROFILE_CACHE_TTL", 10*time.Minute)
	cfg.XRPCBaseURL = strings.TrimRight(getEnvString("XRPC_BASE_URL", "https://public.api.bsky.app"), "/")
	cfg.XRPCTimeout = getEnvDuration("XRPC_TIMEOUT", 5*time.Second)
	cfg.MetadataFetchEnabled = getEnvBool("METADATA_FETCH_ENABLED", true)
	cfg.MetadataFetchTimeout = getEnvDuration("METADATA_FETCH_TIMEOUT", 10*time.Second)
	cfg.MetadataFetchMaxSize = getEnvInt64("METADATA_FETCH_MAX_SIZE", 2097152)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitWrite = getEnvInt("RATE_LIMIT_WRITE", 30)
	cfg.ProvenanceRetentionDays = getEnvInt("PROVENANCE_RETENTION_DAYS", 30)

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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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

// getEnvLevel は debug / info / warn / error を slog.Level に変換する。解釈できない値は既定値。
func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
