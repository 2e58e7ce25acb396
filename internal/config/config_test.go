package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const validTOML = `
mode = "sim"
log_level = "debug"

[engine]
admin = "0x3000000000000000000000000000000000000001"
custody = "0x2000000000000000000000000000000000000001"
pool_custody = "0x2000000000000000000000000000000000000002"
whitelist = ["0x4000000000000000000000000000000000000001"]

[market]
token0 = "0x1000000000000000000000000000000000000001"
token1 = "0x1000000000000000000000000000000000000002"
fee_bips = 30
tick_spacing = 60

[redis]
addr = "localhost:6379"

[sim]
makers = 2
takers = 3
interval = "100ms"
seed = 7
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(writeConfig(t, validTOML))
	require.NoError(err)
	require.NoError(cfg.Validate())

	require.Equal("sim", cfg.Mode)
	require.Equal("debug", cfg.LogLevel)
	require.Equal(2, cfg.Sim.Makers)
	require.Equal(100*time.Millisecond, cfg.Sim.Interval.Duration)
	require.Equal(int64(7), cfg.Sim.Seed)

	// Values absent from the file keep their defaults.
	require.Equal(5432, cfg.Postgres.Port)
	require.Equal("matchbook.events", cfg.Kafka.Topic)
	require.Equal(8080, cfg.Server.Port)
}

func TestLoadEnvOverrides(t *testing.T) {
	require := require.New(t)

	t.Setenv("MATCHBOOK_POSTGRES_PASSWORD", "s3cret")
	t.Setenv("MATCHBOOK_MARKET_FEE_BIPS", "500")
	t.Setenv("MATCHBOOK_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(writeConfig(t, validTOML))
	require.NoError(err)
	require.Equal("s3cret", cfg.Postgres.Password)
	require.Equal(500, cfg.Market.FeeBips)
	require.Equal([]string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	require := require.New(t)

	cases := map[string]func(*Config){
		"bad mode":        func(c *Config) { c.Mode = "backtest" },
		"bad admin":       func(c *Config) { c.Engine.Admin = "not-an-address" },
		"bad whitelist":   func(c *Config) { c.Engine.Whitelist = []string{"0x12"} },
		"fee too high":    func(c *Config) { c.Market.FeeBips = 10_000 },
		"no redis addr":   func(c *Config) { c.Redis.Addr = "" },
		"bad server port": func(c *Config) { c.Server.Enabled = true; c.Server.Port = 70_000 },
		"no sim makers":   func(c *Config) { c.Sim.Makers = 0 },
		"pool conns":      func(c *Config) { c.Postgres.PoolMinConns = 10; c.Postgres.PoolMaxConns = 2 },
	}

	for name, mutate := range cases {
		cfg, err := Load(writeConfig(t, validTOML))
		require.NoError(err, name)
		mutate(cfg)
		require.Error(cfg.Validate(), name)
	}
}

func TestValidateArchiveModeNeedsS3(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(writeConfig(t, validTOML))
	require.NoError(err)
	cfg.Mode = "archive"
	require.Error(cfg.Validate())

	cfg.S3.Bucket = "matchbook-archive"
	require.NoError(cfg.Validate())
}
