package burrow

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the environment-driven engine configuration, for applications
// that prefer twelve-factor setup over hand-assembled options.
type Config struct {
	DataDir         string        `env:"BURROW_DATA_DIR"`
	CacheSize       int           `env:"BURROW_CACHE_SIZE" envDefault:"100"`
	DefaultTTL      time.Duration `env:"BURROW_CACHE_TTL" envDefault:"5m"`
	CleanupInterval time.Duration `env:"BURROW_CLEANUP_INTERVAL" envDefault:"1m"`
	SingleFlight    bool          `env:"BURROW_SINGLE_FLIGHT"`

	RedisAddr     string `env:"BURROW_REDIS_ADDR"`
	RedisPassword string `env:"BURROW_REDIS_PASSWORD"`
	RedisDB       int    `env:"BURROW_REDIS_DB"`
}

// ConfigFromEnv parses a [Config] from the environment.
func ConfigFromEnv() (Config, error) {
	return env.ParseAs[Config]()
}

// Options expands the Config into the equivalent functional options, ready
// to combine with programmatic ones.
func (c Config) Options() []Option {
	opts := []Option{
		WithCacheSize(c.CacheSize),
		WithDefaultTTL(c.DefaultTTL),
		WithCleanupInterval(c.CleanupInterval),
	}
	if c.DataDir != "" {
		opts = append(opts, WithDataDir(c.DataDir))
	}
	if c.SingleFlight {
		opts = append(opts, WithSingleFlight())
	}
	if c.RedisAddr != "" {
		opts = append(opts, WithRedisMirror(c.RedisAddr, c.RedisPassword, c.RedisDB))
	}
	return opts
}
