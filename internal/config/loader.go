package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MATCHBOOK_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MATCHBOOK_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Admin, "MATCHBOOK_ENGINE_ADMIN")
	setStr(&cfg.Engine.Custody, "MATCHBOOK_ENGINE_CUSTODY")
	setStr(&cfg.Engine.PoolCustody, "MATCHBOOK_ENGINE_POOL_CUSTODY")
	setStringSlice(&cfg.Engine.Whitelist, "MATCHBOOK_ENGINE_WHITELIST")

	// ── Market ──
	setStr(&cfg.Market.Token0, "MATCHBOOK_MARKET_TOKEN0")
	setStr(&cfg.Market.Token1, "MATCHBOOK_MARKET_TOKEN1")
	setInt(&cfg.Market.FeeBips, "MATCHBOOK_MARKET_FEE_BIPS")
	setInt(&cfg.Market.TickSpacing, "MATCHBOOK_MARKET_TICK_SPACING")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MATCHBOOK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MATCHBOOK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MATCHBOOK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MATCHBOOK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MATCHBOOK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MATCHBOOK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MATCHBOOK_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MATCHBOOK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MATCHBOOK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MATCHBOOK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MATCHBOOK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MATCHBOOK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MATCHBOOK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MATCHBOOK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MATCHBOOK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MATCHBOOK_REDIS_TLS_ENABLED")

	// ── Kafka ──
	setStringSlice(&cfg.Kafka.Brokers, "MATCHBOOK_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "MATCHBOOK_KAFKA_TOPIC")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MATCHBOOK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MATCHBOOK_S3_REGION")
	setStr(&cfg.S3.Bucket, "MATCHBOOK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MATCHBOOK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MATCHBOOK_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "MATCHBOOK_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MATCHBOOK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MATCHBOOK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MATCHBOOK_SERVER_CORS_ORIGINS")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "MATCHBOOK_ARCHIVE_RETENTION_DAYS")

	// ── Sim ──
	setInt(&cfg.Sim.Makers, "MATCHBOOK_SIM_MAKERS")
	setInt(&cfg.Sim.Takers, "MATCHBOOK_SIM_TAKERS")
	setDuration(&cfg.Sim.Interval, "MATCHBOOK_SIM_INTERVAL")
	setInt64(&cfg.Sim.Seed, "MATCHBOOK_SIM_SEED")

	// ── Top-level ──
	setStr(&cfg.Mode, "MATCHBOOK_MODE")
	setStr(&cfg.LogLevel, "MATCHBOOK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
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
