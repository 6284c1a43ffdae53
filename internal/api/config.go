package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted in SPROUT_SYNC_BACKEND.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	Backend         string // "sqlite" (default) or "postgres"
	DBPath          string // sqlite event table file
	PostgresDSN     string
	JWTSecret       string
	TokenTTL        time.Duration // lifetime of tokens minted by `sprout-sync token`
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	PullLimitDefault int // rows per page when the client sends no limit
	PullLimitMax     int // upper bound on a client-requested limit
	StreamBuffer     int // per-subscription realtime buffer

	RateLimitPush  int // POST /v1/events per device per minute (default: 600)
	RateLimitPull  int // GET /v1/events per device per minute (default: 300)
	RateLimitOther int // all other authenticated routes per device per minute (default: 60)

	CORSAllowedOrigins []string // cross-origin browser clients; "*" allows any, the API host is always allowed
}

// LoadConfig reads configuration from environment variables with sensible defaults.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":8080",
		Backend:         BackendSQLite,
		DBPath:          "./data/events.db",
		TokenTTL:        365 * 24 * time.Hour,
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",

		PullLimitDefault: 500,
		PullLimitMax:     1000,

		RateLimitPush:  600,
		RateLimitPull:  300,
		RateLimitOther: 60,
	}

	if v := os.Getenv("SPROUT_SYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SPROUT_SYNC_BACKEND"); v != "" {
		cfg.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("SPROUT_SYNC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SPROUT_SYNC_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("SPROUT_SYNC_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("SPROUT_SYNC_TOKEN_TTL"); v != "" {
		if d := parseDaysDuration(v); d > 0 {
			cfg.TokenTTL = d
		}
	}
	if v := os.Getenv("SPROUT_SYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("SPROUT_SYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("SPROUT_SYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	setPositiveInt(&cfg.PullLimitDefault, "SPROUT_SYNC_PULL_LIMIT")
	setPositiveInt(&cfg.PullLimitMax, "SPROUT_SYNC_PULL_LIMIT_MAX")
	setPositiveInt(&cfg.StreamBuffer, "SPROUT_SYNC_STREAM_BUFFER")
	setPositiveInt(&cfg.RateLimitPush, "SPROUT_SYNC_RATE_LIMIT_PUSH")
	setPositiveInt(&cfg.RateLimitPull, "SPROUT_SYNC_RATE_LIMIT_PULL")
	setPositiveInt(&cfg.RateLimitOther, "SPROUT_SYNC_RATE_LIMIT_OTHER")

	if v := os.Getenv("SPROUT_SYNC_CORS_ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}

	if cfg.PullLimitDefault > cfg.PullLimitMax {
		cfg.PullLimitDefault = cfg.PullLimitMax
	}
	return cfg
}

func setPositiveInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

// parseDaysDuration parses a string like "90d", "30d" into a time.Duration.
// Falls back to time.ParseDuration for standard Go durations.
func parseDaysDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		if n, err := strconv.Atoi(numStr); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}
