// Package config loads the engine's runtime configuration from
// environment variables (spec.md §6), following the teacher pack's
// viper-based pattern (0xtitan6-polymarket-mm/internal/config/config.go)
// adapted from YAML+env to a pure env-style config: there is no file to
// point at, so viper is used purely for its AutomaticEnv/mapstructure
// binding and default handling.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every recognized engine setting (spec.md §6).
type Config struct {
	Markets               []string `mapstructure:"-"`
	MaxLeverage           int      `mapstructure:"max_leverage"`
	MaintenanceMargin     string   `mapstructure:"maintenance_margin"`
	ShortSafetyMultiplier string   `mapstructure:"short_safety_multiplier"`
	PnLIntervalMS         int      `mapstructure:"pnl_interval_ms"`
	PriceUpdateIntervalMS int      `mapstructure:"price_update_interval_ms"`
	IntakeTimeoutMS       int      `mapstructure:"intake_timeout_ms"`
	RedisAddr             string   `mapstructure:"redis_addr"`
}

// Load reads configuration from the environment, optionally seeded by a
// .env file in the working directory (same optional-load idiom
// web3guy0-polybot's entrypoint uses, ahead of viper's AutomaticEnv).
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("markets", "SOL_USDC,BTC_USDC,ETH_USDC")
	v.SetDefault("max_leverage", 10)
	v.SetDefault("maintenance_margin", "0.05")
	v.SetDefault("short_safety_multiplier", "1.10")
	v.SetDefault("pnl_interval_ms", 1000)
	v.SetDefault("price_update_interval_ms", 1000)
	v.SetDefault("intake_timeout_ms", 2000)
	v.SetDefault("redis_addr", "localhost:6379")

	for _, key := range []string{
		"markets", "max_leverage", "maintenance_margin", "short_safety_multiplier",
		"pnl_interval_ms", "price_update_interval_ms", "intake_timeout_ms", "redis_addr",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// MARKETS arrives as a comma-separated env string ("SOL_USDC,BTC_USDC");
	// viper's AutomaticEnv doesn't split it, so it's parsed explicitly here.
	if raw := v.GetString("markets"); raw != "" {
		parts := strings.Split(raw, ",")
		cfg.Markets = cfg.Markets[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Markets = append(cfg.Markets, p)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Markets) == 0 {
		return fmt.Errorf("config: markets must not be empty")
	}
	if c.MaxLeverage <= 0 {
		return fmt.Errorf("config: max_leverage must be > 0")
	}
	if c.PnLIntervalMS <= 0 || c.PriceUpdateIntervalMS <= 0 || c.IntakeTimeoutMS <= 0 {
		return fmt.Errorf("config: interval settings must be > 0")
	}
	return nil
}
