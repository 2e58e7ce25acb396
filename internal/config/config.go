// Package config defines the top-level configuration for the matchbook
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MATCHBOOK_* environment
// variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Market   MarketConfig   `toml:"market"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Kafka    KafkaConfig    `toml:"kafka"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Archive  ArchiveConfig  `toml:"archive"`
	Sim      SimConfig      `toml:"sim"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the matching engine identities.
type EngineConfig struct {
	// Admin is the hex address that controls the whitelist.
	Admin string `toml:"admin"`
	// Custody is the engine's escrow account.
	Custody string `toml:"custody"`
	// PoolCustody is the liquidity engine's settlement account.
	PoolCustody string `toml:"pool_custody"`
	// Whitelist seeds the participant whitelist at startup.
	Whitelist []string `toml:"whitelist"`
}

// MarketConfig describes the market the daemon operates.
type MarketConfig struct {
	Token0      string `toml:"token0"`
	Token1      string `toml:"token1"`
	FeeBips     int    `toml:"fee_bips"`
	TickSpacing int    `toml:"tick_spacing"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// KafkaConfig holds the event topic parameters. Leaving Brokers empty
// disables the Kafka publisher.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the event-feed HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// ArchiveConfig controls cold-storage exports.
type ArchiveConfig struct {
	RetentionDays int `toml:"retention_days"`
}

// SimConfig drives the simulation harness.
type SimConfig struct {
	Makers   int      `toml:"makers"`
	Takers   int      `toml:"takers"`
	Interval duration `toml:"interval"`
	Seed     int64    `toml:"seed"`
}

// duration wraps time.Duration for TOML decoding of strings like "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 8,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 8,
		},
		Kafka: KafkaConfig{
			Topic: "matchbook.events",
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
		},
		Sim: SimConfig{
			Makers:   4,
			Takers:   4,
			Interval: duration{250 * time.Millisecond},
			Seed:     1,
		},
		Mode:     "sim",
		LogLevel: "info",
	}
}

// Validate checks the configuration for internally inconsistent or missing
// values and returns a single aggregated error.
func (c *Config) Validate() error {
	var errs []string

	switch c.Mode {
	case "sim", "archive":
	default:
		errs = append(errs, fmt.Sprintf("mode: unsupported mode %q", c.Mode))
	}

	for name, addr := range map[string]string{
		"engine.admin":        c.Engine.Admin,
		"engine.custody":      c.Engine.Custody,
		"engine.pool_custody": c.Engine.PoolCustody,
		"market.token0":       c.Market.Token0,
		"market.token1":       c.Market.Token1,
	} {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("%s: %q is not a hex address", name, addr))
		}
	}
	for _, w := range c.Engine.Whitelist {
		if !common.IsHexAddress(w) {
			errs = append(errs, fmt.Sprintf("engine.whitelist: %q is not a hex address", w))
		}
	}

	if c.Market.FeeBips < 0 || c.Market.FeeBips >= 10_000 {
		errs = append(errs, fmt.Sprintf("market: fee_bips must be in [0, 10000), got %d", c.Market.FeeBips))
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Mode == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty in archive mode")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if c.Mode == "sim" {
		if c.Sim.Makers < 1 || c.Sim.Takers < 1 {
			errs = append(errs, "sim: makers and takers must be >= 1")
		}
		if c.Sim.Interval.Duration <= 0 {
			errs = append(errs, "sim: interval must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
