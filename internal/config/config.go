// Package config defines all configuration for the options trading
// runtime. Config is loaded from a YAML file (default: configs/config.yaml)
// with sensitive fields overridable via OE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	MarketData MarketDataConfig `mapstructure:"marketdata"`
	Store      StoreConfig      `mapstructure:"store"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	API        APIConfig        `mapstructure:"api"`
}

// BridgeConfig holds the broker bridge session parameters.
type BridgeConfig struct {
	URL      string `mapstructure:"url"`
	ClientID int    `mapstructure:"client_id"`
	Account  string `mapstructure:"account"`
}

// MarketDataConfig holds the quote vendor endpoint and token.
type MarketDataConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// StoreConfig sets where strategy settings and holdings are persisted
// (YAML files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// DatabaseConfig sets the trading database location.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig controls the read-only HTTP status surface.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
// The vendor token uses OE_MARKETDATA_TOKEN; the broker account
// OE_BRIDGE_ACCOUNT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("OE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if token := os.Getenv("OE_MARKETDATA_TOKEN"); token != "" {
		cfg.MarketData.Token = token
	}
	if account := os.Getenv("OE_BRIDGE_ACCOUNT"); account != "" {
		cfg.Bridge.Account = account
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Bridge.URL == "" {
		return fmt.Errorf("bridge.url is required")
	}
	if c.Bridge.ClientID <= 0 {
		return fmt.Errorf("bridge.client_id must be > 0")
	}
	if c.MarketData.BaseURL == "" {
		return fmt.Errorf("marketdata.base_url is required")
	}
	if c.MarketData.Token == "" {
		return fmt.Errorf("marketdata.token is required (set OE_MARKETDATA_TOKEN)")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port must be a valid port when api.enabled")
	}
	return nil
}
