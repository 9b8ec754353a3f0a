// Package config loads broker runtime configuration, grounded on
// go-server-3/internal/config: viper-backed, env-prefixed, defaulted.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the broker process.
type Config struct {
	NATS    NATSConfig    `mapstructure:"nats"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// NATSConfig controls the connection to the messaging fabric that
// realizes the REQ/REP + PUB/SUB transport contract.
type NATSConfig struct {
	URL             string        `mapstructure:"url"`
	MaxReconnects   int           `mapstructure:"max_reconnects"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait"`
	ReconnectJitter time.Duration `mapstructure:"reconnect_jitter"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// BrokerConfig controls dispatcher/heartbeat behaviour.
type BrokerConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// MetricsConfig controls the broker's HTTP health/metrics listener.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from environment variables (prefixed PUBSUB_)
// and an optional config file named pubsub.{yaml,json,...}.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", time.Second)
	v.SetDefault("nats.reconnect_jitter", 200*time.Millisecond)
	v.SetDefault("nats.request_timeout", 5*time.Second)

	v.SetDefault("broker.heartbeat_interval", time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9095")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("pubsub")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("PUBSUB")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Broker.HeartbeatInterval <= 0 {
		cfg.Broker.HeartbeatInterval = time.Second
	}

	return cfg, nil
}
