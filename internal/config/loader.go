package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the configuration: defaults, then the TOML file at path (if
// path is non-empty), then .env, then environment overrides. The returned
// Config has NOT been validated; call Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from GOKER_* environment
// variables. PORT, DATABASE_URL and REDIS_URL are honoured as well so the
// service runs unchanged on platforms that inject them.
func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "PORT")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")

	// ── Server ──
	setInt(&cfg.Server.Port, "GOKER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "GOKER_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.ReadTimeout, "GOKER_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "GOKER_SERVER_WRITE_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "GOKER_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxConns, "GOKER_POSTGRES_MAX_CONNS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "GOKER_REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "GOKER_REDIS_CACHE_TTL")
	setDuration(&cfg.Redis.LockTTL, "GOKER_REDIS_LOCK_TTL")

	// ── Settlement ──
	setInt(&cfg.Settlement.ExactModeParticipantLimit, "GOKER_SETTLEMENT_EXACT_MODE_PARTICIPANT_LIMIT")
	setInt(&cfg.Settlement.ExactModeSearchBudget, "GOKER_SETTLEMENT_EXACT_MODE_SEARCH_BUDGET")
	setInt(&cfg.Settlement.BatchConcurrency, "GOKER_SETTLEMENT_BATCH_CONCURRENCY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "GOKER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "GOKER_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "GOKER_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "GOKER_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "GOKER_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "GOKER_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.ForcePathStyle, "GOKER_ARCHIVE_FORCE_PATH_STYLE")

	// ── Top-level ──
	setStr(&cfg.Currency, "GOKER_CURRENCY")
	setStr(&cfg.LogLevel, "GOKER_LOG_LEVEL")
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
