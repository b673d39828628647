// Package config loads htcpd's runtime configuration, grounded on the
// viper-based loader the example WebSocket server uses: defaults are set
// first, then an optional config file and environment variables are
// layered on top.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for htcpd.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the HTCP TCP listener (spec §5/§6).
type ServerConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	MaxConnections     int           `mapstructure:"max_connections"`
	ExposeTransactions bool          `mapstructure:"expose_transactions"`
	ListenBacklog      int           `mapstructure:"listen_backlog"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	MaxPayloadSize     int           `mapstructure:"max_payload_size"`
}

// MetricsConfig controls the debug HTTP server exposing /metrics and
// /healthz.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from an optional config file and environment
// variables prefixed HTCP_, falling back to the defaults below.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7350)
	v.SetDefault("server.max_connections", 10000)
	v.SetDefault("server.expose_transactions", true)
	v.SetDefault("server.listen_backlog", 1024)
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.connect_timeout", 30*time.Second)
	v.SetDefault("server.max_payload_size", 16<<20)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9350")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("htcpd")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("HTCP")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.Server.MaxPayloadSize <= 0 {
		cfg.Server.MaxPayloadSize = 16 << 20
	}

	return cfg, nil
}
