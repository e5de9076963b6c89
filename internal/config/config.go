package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"chainalerts/internal/logging"
)

// MaxHistoryCapacity bounds alerting.history_capacity.
const MaxHistoryCapacity = 50

// Config materialises application configuration.
type Config struct {
	App          AppConfig           `mapstructure:"app"`
	Logging      logging.Config      `mapstructure:"logging"`
	Scheduler    SchedulerConfig     `mapstructure:"scheduler"`
	Storage      StorageConfig       `mapstructure:"storage"`
	Sources      []SourceConfig      `mapstructure:"sources"`
	Alerting     AlertingConfig      `mapstructure:"alerting"`
	Notify       NotifyConfig        `mapstructure:"notify"`
	Integrations []IntegrationConfig `mapstructure:"integrations"`
	Analytics    AnalyticsConfig     `mapstructure:"analytics"`
	Metrics      MetricsConfig       `mapstructure:"metrics"`
	Export       ExportConfig        `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	EnvFile     string `mapstructure:"env_file"`
}

// SchedulerConfig governs refresh cadence.
type SchedulerConfig struct {
	MetricsInterval   time.Duration `mapstructure:"metrics_interval"`
	AnalyticsInterval time.Duration `mapstructure:"analytics_interval"`
	StartupDelay      time.Duration `mapstructure:"startup_delay"`
	AlignToInterval   bool          `mapstructure:"align_to_interval"`
	AdvisoryLockKey   int64         `mapstructure:"advisory_lock_key"`
}

// StorageConfig selects where session state is spilled.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
}

// RedisConfig covers the Redis key-value backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SourceConfig declares one metric source and how to refresh it.
type SourceConfig struct {
	ID         string        `mapstructure:"id"`
	Name       string        `mapstructure:"name"`
	Categories []string      `mapstructure:"categories"`
	Kind       string        `mapstructure:"kind"`
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Link       string        `mapstructure:"link"`
	Vaults     []VaultConfig `mapstructure:"vaults"`
}

// VaultConfig names an ERC-4626 vault read by an evm source.
type VaultConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
}

// AlertingConfig defines dispatcher behaviour.
type AlertingConfig struct {
	HistoryCapacity int           `mapstructure:"history_capacity"`
	RuleCooldown    time.Duration `mapstructure:"rule_cooldown"`
	RulesFile       string        `mapstructure:"rules_file"`
}

// NotifyConfig toggles the local notification channels.
type NotifyConfig struct {
	Sound         bool `mapstructure:"sound"`
	Push          bool `mapstructure:"push"`
	PushPermitted bool `mapstructure:"push_permitted"`
}

// IntegrationConfig seeds an external integration at startup.
type IntegrationConfig struct {
	ID                string   `mapstructure:"id"`
	Type              string   `mapstructure:"type"`
	Name              string   `mapstructure:"name"`
	WebhookURL        string   `mapstructure:"webhook_url"`
	BotToken          string   `mapstructure:"bot_token"`
	ChatID            string   `mapstructure:"chat_id"`
	APIBase           string   `mapstructure:"api_base"`
	MinSeverity       string   `mapstructure:"min_severity"`
	Categories        []string `mapstructure:"categories"`
	IncludePriceAlert bool     `mapstructure:"include_price_alerts"`
	IncludePriceData  bool     `mapstructure:"include_price_data"`
	Enabled           bool     `mapstructure:"enabled"`
	RatePerMinute     int      `mapstructure:"rate_per_minute"`
}

// AnalyticsConfig tunes the periodic analytics pass.
type AnalyticsConfig struct {
	Timeframe string  `mapstructure:"timeframe"`
	AnomalyK  float64 `mapstructure:"anomaly_k"`
}

// MetricsConfig exposes Prometheus metrics.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadEnvFile(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("CHAINALERTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "chainalerts")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.metrics_interval", "10s")
	v.SetDefault("scheduler.analytics_interval", "30s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.advisory_lock_key", 420042)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.prefix", "chainalerts:")
	v.SetDefault("storage.database.max_open_conns", 10)
	v.SetDefault("storage.database.max_idle_conns", 2)
	v.SetDefault("storage.database.conn_max_lifetime", "30m")

	v.SetDefault("alerting.history_capacity", MaxHistoryCapacity)
	v.SetDefault("alerting.rule_cooldown", "30m")

	v.SetDefault("notify.sound", true)
	v.SetDefault("notify.push", false)
	v.SetDefault("notify.push_permitted", false)

	v.SetDefault("analytics.timeframe", "24h")
	v.SetDefault("analytics.anomaly_k", 2.0)

	v.SetDefault("export.max_data_points", 1000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.MetricsInterval <= 0 {
		return fmt.Errorf("scheduler.metrics_interval must be greater than zero")
	}
	if c.Scheduler.AnalyticsInterval <= 0 {
		return fmt.Errorf("scheduler.analytics_interval must be greater than zero")
	}
	if c.Alerting.HistoryCapacity <= 0 {
		return fmt.Errorf("alerting.history_capacity must be greater than zero")
	}
	if c.Alerting.HistoryCapacity > MaxHistoryCapacity {
		return fmt.Errorf("alerting.history_capacity must not exceed %d", MaxHistoryCapacity)
	}
	if c.Alerting.RuleCooldown < 0 {
		return fmt.Errorf("alerting.rule_cooldown cannot be negative")
	}
	if c.Analytics.AnomalyK <= 0 {
		return fmt.Errorf("analytics.anomaly_k must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "memory", "":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr must be set for the redis backend")
		}
	case "postgres":
		if c.Storage.Database.DSN == "" {
			return fmt.Errorf("storage.database.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d].id must be set", i)
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("sources[%d].id %q is duplicated", i, src.ID)
		}
		seen[src.ID] = struct{}{}
		if src.URL == "" {
			return fmt.Errorf("sources[%d].url must be set", i)
		}
		switch src.Kind {
		case "http", "evm":
		default:
			return fmt.Errorf("sources[%d].kind %q must be http or evm", i, src.Kind)
		}
		for j, v := range src.Vaults {
			if src.Kind != "evm" {
				return fmt.Errorf("sources[%d].vaults requires kind evm", i)
			}
			if v.Symbol == "" || v.Address == "" {
				return fmt.Errorf("sources[%d].vaults[%d] needs symbol and address", i, j)
			}
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
