/*
Package config loads runtime configuration.

PURPOSE:
  Centralizes configuration for the equity engine server. Values come
  from environment variables (optionally an equity.env file in the
  working directory), with sane local-development defaults.

VARIABLES:
  PORT                    HTTP server port (default 8080)
  DB_PATH                 SQLite database path (default ./data/equity.db,
                          ":memory:" for ephemeral)
  TX_MAX_RETRIES          Transaction retry count on conflicts (default 3)
  VESTING_CHECK_INTERVAL  Scheduler tick, Go duration (default 1h)
  VESTING_SCHEDULER       Enable the background scheduler (default true)
  LOG_LEVEL               zerolog level: debug|info|warn|error (default info)

SEE ALSO:
  - cmd/server/main.go: The only consumer
*/
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings.
type Config struct {
	Port                 int           `mapstructure:"PORT"`
	DBPath               string        `mapstructure:"DB_PATH"`
	TxMaxRetries         int           `mapstructure:"TX_MAX_RETRIES"`
	VestingCheckInterval time.Duration `mapstructure:"VESTING_CHECK_INTERVAL"`
	VestingScheduler     bool          `mapstructure:"VESTING_SCHEDULER"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
}

// Load reads configuration from the environment and, when present, an
// equity.env file in the working directory. Missing values fall back to
// local-development defaults.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_PATH", "./data/equity.db")
	v.SetDefault("TX_MAX_RETRIES", 3)
	v.SetDefault("VESTING_CHECK_INTERVAL", "1h")
	v.SetDefault("VESTING_SCHEDULER", true)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetConfigName("equity")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// The env file is optional; only a malformed one is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.TxMaxRetries < 0 {
		return Config{}, fmt.Errorf("TX_MAX_RETRIES must be >= 0, got %d", cfg.TxMaxRetries)
	}
	if cfg.VestingCheckInterval <= 0 {
		return Config{}, fmt.Errorf("VESTING_CHECK_INTERVAL must be positive, got %v", cfg.VestingCheckInterval)
	}
	return cfg, nil
}
