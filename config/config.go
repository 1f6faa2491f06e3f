/*
Package config loads server configuration.

PURPOSE:
  One Config struct for the whole binary, loaded with viper from an optional
  YAML file plus STOCK_-prefixed environment variables. Environment wins over
  file, file wins over defaults.

EXAMPLES:
  STOCK_HTTP_ADDR=":9090"
  STOCK_DATABASE_PATH="/var/lib/stock/stock.db"
  STOCK_MATERIALIZER_SECRET="..."
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP struct {
		Addr string `mapstructure:"addr"`

		// DemoScenarios mounts the destructive demo-data endpoints.
		DemoScenarios bool `mapstructure:"demo_scenarios"`
	} `mapstructure:"http"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Materializer struct {
		// Secret authorizes the internal materialization trigger endpoint.
		// Empty disables the check.
		Secret string `mapstructure:"secret"`

		SchedulerEnabled bool          `mapstructure:"scheduler_enabled"`
		CheckInterval    time.Duration `mapstructure:"check_interval"`
	} `mapstructure:"materializer"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

// Load reads configuration from the given file (optional) and the
// environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.demo_scenarios", false)
	v.SetDefault("database.path", "stock.db")
	v.SetDefault("materializer.secret", "")
	v.SetDefault("materializer.scheduler_enabled", true)
	v.SetDefault("materializer.check_interval", time.Hour)
	v.SetDefault("metrics.enabled", true)

	v.SetEnvPrefix("STOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
