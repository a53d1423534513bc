package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Provider  ProviderConfig  `mapstructure:"provider"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Classes   ClassesConfig   `mapstructure:"classes"`
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ProviderConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond int           `mapstructure:"rate_per_second"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type DiscoveryConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type IntervalConfig struct {
	Min               time.Duration `mapstructure:"min_interval"`
	Max               time.Duration `mapstructure:"max_interval"`
	Initial           time.Duration `mapstructure:"initial_interval"`
	Step              time.Duration `mapstructure:"step"`
	NoChangeThreshold int           `mapstructure:"no_change_threshold"`
}

type ClassesConfig struct {
	LiveStats IntervalConfig `mapstructure:"livestats"`
	Circle    IntervalConfig `mapstructure:"circle"`
	Backpack  IntervalConfig `mapstructure:"backpack"`
}

// For returns the interval settings of a class.
func (c ClassesConfig) For(class Class) IntervalConfig {
	switch class {
	case ClassCircle:
		return c.Circle
	case ClassBackpack:
		return c.Backpack
	default:
		return c.LiveStats
	}
}

type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
}

type StoreConfig struct {
	Driver   string `mapstructure:"driver"` // "memory" or "sqlite"
	Path     string `mapstructure:"path"`
	PoolSize int    `mapstructure:"pool_size"`
}

type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	BackpackTTL time.Duration `mapstructure:"backpack_ttl"`
}

type NotifyConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Server           string `mapstructure:"server"`
	Topic            string `mapstructure:"topic"`
	Priority         string `mapstructure:"priority"`
	Tags             string `mapstructure:"tags"`
	Token            string `mapstructure:"token"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("provider.base_url", "http://localhost:10086")
	v.SetDefault("provider.timeout", 5*time.Second)
	v.SetDefault("provider.rate_per_second", 20)
	v.SetDefault("provider.retry_count", 0)
	v.SetDefault("provider.retry_delay", 250*time.Millisecond)
	v.SetDefault("discovery.interval", 10*time.Second)
	for _, class := range Classes {
		d := DefaultIntervals[class]
		prefix := "classes." + string(class) + "."
		v.SetDefault(prefix+"min_interval", d.Min)
		v.SetDefault(prefix+"max_interval", d.Max)
		v.SetDefault(prefix+"initial_interval", d.Initial)
		v.SetDefault(prefix+"step", d.Step)
		v.SetDefault(prefix+"no_change_threshold", d.NoChangeThreshold)
	}
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "livesync.db")
	v.SetDefault("store.pool_size", 4)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.backpack_ttl", 30*time.Second)
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "satellite")
	v.SetDefault("notify.failure_threshold", 5)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", true)

	// Environment variable support
	v.SetEnvPrefix("LIVESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Names already used by existing deployments
	_ = v.BindEnv("provider.base_url", "LIVESYNC_PROVIDER_BASE_URL", "PUBG_API_URL")
	_ = v.BindEnv("cache.redis_url", "LIVESYNC_CACHE_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("notify.token", "LIVESYNC_NOTIFY_TOKEN", "NTFY_TOKEN")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("livesync")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
