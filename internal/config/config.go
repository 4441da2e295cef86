package config

import (
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DatabaseConfig configures the warehouse connection pool.
type DatabaseConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// FetchConfig configures the fetch gateway and its HTTP transport.
type FetchConfig struct {
	Retries     int     `yaml:"retries" mapstructure:"retries"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	DelaySecs   float64 `yaml:"delay_secs" mapstructure:"delay_secs"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// Timeout returns the per-request timeout.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// Delay returns the courtesy delay and backoff unit.
func (f FetchConfig) Delay() time.Duration {
	return time.Duration(f.DelaySecs * float64(time.Second))
}

// CacheConfig selects the content cache backend.
type CacheConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ExtractConfig configures pagination.
type ExtractConfig struct {
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`
}

// SourcesConfig points at an alternative source catalog.
type SourcesConfig struct {
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// MonitoringConfig configures the run log health check.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Cache drivers.
const (
	CacheDriverPostgres = "postgres"
	CacheDriverSQLite   = "sqlite"
	CacheDriverMemory   = "memory"
)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OPTIMAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Pool sizing also honours the variables of the legacy deployment.
	_ = v.BindEnv("database.min_conns", "OPTIMAL_DATABASE_MIN_CONNS", "POSTGRES_MIN_CONN")
	_ = v.BindEnv("database.max_conns", "OPTIMAL_DATABASE_MAX_CONNS", "POSTGRES_MAX_CONN")

	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("fetch.retries", 5)
	v.SetDefault("fetch.timeout_secs", 5)
	v.SetDefault("fetch.delay_secs", 5)
	v.SetDefault("fetch.rate_per_sec", 2)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("cache.driver", CacheDriverPostgres)
	v.SetDefault("cache.sqlite_path", "cache.db")
	v.SetDefault("extract.chunk_size", 100)
	v.SetDefault("sources.catalog_path", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.lookback_hours", 48)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.stale_after_hours", 36)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = LegacyDSN(os.Getenv)
	}

	return &cfg, nil
}

// LegacyDSN builds a connection URL from the POSTGRES_* variables. It
// returns "" when POSTGRES_HOST is unset.
func LegacyDSN(getenv func(string) string) string {
	host := getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + getenv("POSTGRES_DB"),
	}
	if user := getenv("POSTGRES_USER"); user != "" {
		if pass := getenv("POSTGRES_PASSWORD"); pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String()
}

// Validate checks values every command relies on.
func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case CacheDriverPostgres, CacheDriverMemory:
	case CacheDriverSQLite:
		if c.Cache.SQLitePath == "" {
			return eris.New("config: cache.sqlite_path is required for the sqlite cache")
		}
	default:
		return eris.Errorf("config: unknown cache.driver %q (want postgres, sqlite or memory)", c.Cache.Driver)
	}
	if c.Fetch.Retries < 1 {
		return eris.Errorf("config: fetch.retries must be at least 1, got %d", c.Fetch.Retries)
	}
	if c.Fetch.TimeoutSecs < 1 {
		return eris.Errorf("config: fetch.timeout_secs must be positive, got %d", c.Fetch.TimeoutSecs)
	}
	if c.Fetch.DelaySecs < 0 {
		return eris.Errorf("config: fetch.delay_secs must not be negative, got %v", c.Fetch.DelaySecs)
	}
	if c.Extract.ChunkSize < 1 {
		return eris.Errorf("config: extract.chunk_size must be positive, got %d", c.Extract.ChunkSize)
	}
	if c.Database.MinConns > c.Database.MaxConns && c.Database.MaxConns > 0 {
		return eris.Errorf("config: database.min_conns (%d) exceeds max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	return nil
}

// RequireDatabase reports a missing connection URL.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return eris.New("config: database.url is required (set OPTIMAL_DATABASE_URL or POSTGRES_HOST)")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
