// Package config loads the service configuration from YAML with environment
// overrides. Defaults match the production intake and cancellation tuning so
// a bare deployment needs only connection settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/helioex/orderdesk/internal/infrastructure/messaging"
	"github.com/helioex/orderdesk/internal/orders/cache"
	"github.com/helioex/orderdesk/internal/orders/cancel"
	"github.com/helioex/orderdesk/internal/orders/intake"
)

// Config is the full service configuration tree.
type Config struct {
	LogLevel    string         `mapstructure:"log_level"`
	MetricsAddr string         `mapstructure:"metrics_addr"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
	Intake      intake.Config  `mapstructure:"intake"`
	Cancel      cancel.Config  `mapstructure:"cancel"`
	Cache       cache.Config   `mapstructure:"cache"`
	Features    FeatureFlags   `mapstructure:"features"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN renders the GORM Postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// RedisConfig holds the open-order cache connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig mirrors messaging.Config for the configuration tree.
type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	BatchSize     int           `mapstructure:"batch_size"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks  int           `mapstructure:"required_acks"`
	ConsumerGroup string        `mapstructure:"consumer_group"`
}

// Messaging converts to the messaging package's config type.
func (c KafkaConfig) Messaging() *messaging.Config {
	return &messaging.Config{
		Brokers:       c.Brokers,
		ReadTimeout:   c.ReadTimeout,
		WriteTimeout:  c.WriteTimeout,
		BatchSize:     c.BatchSize,
		BatchTimeout:  c.BatchTimeout,
		RequiredAcks:  c.RequiredAcks,
		ConsumerGroup: c.ConsumerGroup,
	}
}

// FeatureFlags are runtime toggles.
type FeatureFlags struct {
	UseLegacyCancelFormat bool `mapstructure:"use_legacy_cancel_format"`
	BotTradingHalted      bool `mapstructure:"bot_trading_halted"`
}

// Load reads the configuration file (optional) and environment overrides
// prefixed ORDERDESK_.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("orderdesk")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/orderdesk")

	v.SetEnvPrefix("ORDERDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", ":9109")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "orderdesk")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "orderdesk")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.read_timeout", 10*time.Second)
	v.SetDefault("kafka.write_timeout", time.Second)
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", 10*time.Millisecond)
	v.SetDefault("kafka.required_acks", 1)
	v.SetDefault("kafka.consumer_group", "orderdesk")

	v.SetDefault("intake.queue_capacity", 100_000)
	v.SetDefault("intake.batch_size", 10)
	v.SetDefault("intake.flush_interval", 50*time.Millisecond)
	v.SetDefault("intake.backpressure_delay", 100*time.Millisecond)

	v.SetDefault("cancel.max_attempts", 3)
	v.SetDefault("cancel.initial_interval", 4*time.Second)
	v.SetDefault("cancel.multiplier", 2.0)
	v.SetDefault("cancel.use_legacy_cancel_format", false)

	v.SetDefault("cache.ttl", time.Hour)

	v.SetDefault("features.use_legacy_cancel_format", false)
	v.SetDefault("features.bot_trading_halted", false)
}
