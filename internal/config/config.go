// Package config loads knitstore's runtime configuration from a YAML file,
// environment variables and flags via github.com/spf13/viper. Config is
// constructed once and consumed by value rather than read ad hoc from the
// environment at each call site.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// IndexBackend selects which knitindex implementation a store is opened
// with.
type IndexBackend string

const (
	IndexBackendText  IndexBackend = "text"
	IndexBackendGraph IndexBackend = "graph"
)

// StoreConfig configures one knit store instance: where its data and index
// live, the delta-chain bound, and whether records carry per-line
// annotations.
type StoreConfig struct {
	DataDir       string       `mapstructure:"data_dir"`
	TempDir       string       `mapstructure:"temp_dir"`
	IndexBackend  IndexBackend `mapstructure:"index_backend"`
	IndexPath     string       `mapstructure:"index_path"`
	MaxDeltaChain int          `mapstructure:"max_delta_chain"`
	Annotated     bool         `mapstructure:"annotated"`
	// Fallbacks are other store configs opened read-only alongside this
	// one and consulted, in the given order, whenever a key is absent
	// here.
	Fallbacks []StoreConfig `mapstructure:"fallbacks"`
}

// RedisConfig configures an optional Redis-backed content cache and
// distributed lock. Mirrors the field set internal/cache/redis.Client's
// NewClient expects (Addr()/Password/DB/PoolSize/DialTimeout).
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Enabled     bool          `mapstructure:"enabled"`
}

// Addr returns the host:port address redis.Options expects.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PostgresConfig configures the optional durable missing-compression-parent
// tracker (internal/missingparent/postgres).
type PostgresConfig struct {
	DSN     string `mapstructure:"dsn"`
	Enabled bool   `mapstructure:"enabled"`
}

// MetricsConfig configures the Prometheus + health HTTP surface exposed by
// `knitctl serve`.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the top-level configuration for knitctl and any embedder of
// the store.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("store.data_dir", "./knit-data")
	v.SetDefault("store.temp_dir", "./knit-data/tmp")
	v.SetDefault("store.index_backend", string(IndexBackendText))
	v.SetDefault("store.index_path", "./knit-data/index")
	v.SetDefault("store.max_delta_chain", 200)
	v.SetDefault("store.annotated", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.enabled", false)

	v.SetDefault("postgres.enabled", false)

	v.SetDefault("metrics.addr", ":9090")
}

// Load reads configuration from configPath (if non-empty and present),
// KNITCTL_-prefixed environment variables, and viper defaults. Environment
// variables override the file, and the file overrides the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("knitctl")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
