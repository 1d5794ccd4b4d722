// Package config defines the service configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/goker/goker-ledger/internal/model"
	"github.com/goker/goker-ledger/internal/settle"
)

// Config is the root configuration structure. Fields are populated from an
// optional TOML file and then overridden by GOKER_* environment variables.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Settlement SettlementConfig `toml:"settlement"`
	Archive    ArchiveConfig    `toml:"archive"`
	Currency   string           `toml:"currency"` // default for new sessions
	LogLevel   string           `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
}

// PostgresConfig holds the connection string for the entry store. An empty
// DSN selects the in-memory store.
type PostgresConfig struct {
	DSN      string `toml:"dsn"`
	MaxConns int    `toml:"max_conns"`
}

// RedisConfig enables the plan cache and the distributed close lock.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL duration `toml:"cache_ttl"`
	LockTTL  duration `toml:"lock_ttl"`
}

// SettlementConfig bounds the settlement engine. Exact mode is off unless
// both bounds are set.
type SettlementConfig struct {
	ExactModeParticipantLimit int `toml:"exact_mode_participant_limit"`
	ExactModeSearchBudget     int `toml:"exact_mode_search_budget"`
	BatchConcurrency          int `toml:"batch_concurrency"`
}

// Engine returns the settlement engine configuration.
func (s SettlementConfig) Engine() settle.Config {
	return settle.Config{
		ExactModeParticipantLimit: s.ExactModeParticipantLimit,
		ExactModeSearchBudget:     s.ExactModeSearchBudget,
	}
}

// ArchiveConfig holds S3-compatible object storage parameters for the plan
// archive.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with default values. The exact-mode
// bounds have no default: they stay zero (disabled) until configured.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			CORSOrigins:  []string{"*"},
			ReadTimeout:  duration{10 * time.Second},
			WriteTimeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
		},
		Redis: RedisConfig{
			CacheTTL: duration{5 * time.Minute},
			LockTTL:  duration{30 * time.Second},
		},
		Settlement: SettlementConfig{
			BatchConcurrency: 4,
		},
		Archive: ArchiveConfig{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Currency: "USD",
		LogLevel: "info",
	}
}

// Validate checks Config for obviously invalid values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Settlement.ExactModeParticipantLimit < 0 {
		errs = append(errs, "settlement.exact_mode_participant_limit must not be negative")
	}
	if c.Settlement.ExactModeParticipantLimit > settle.MaxExactParticipants {
		errs = append(errs, fmt.Sprintf("settlement.exact_mode_participant_limit must be at most %d",
			settle.MaxExactParticipants))
	}
	if c.Settlement.ExactModeSearchBudget < 0 {
		errs = append(errs, "settlement.exact_mode_search_budget must not be negative")
	}
	if c.Settlement.BatchConcurrency < 1 {
		errs = append(errs, "settlement.batch_concurrency must be at least 1")
	}
	if !model.ValidCurrency(c.Currency) {
		errs = append(errs, fmt.Sprintf("currency %q is not an ISO 4217 code", c.Currency))
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		errs = append(errs, "archive.bucket is required when the archive is enabled")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level %q must be debug, info, warn or error", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
