package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"poolswap/internal/fixed"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	PGDSN          string
	StatePath      string
	LedgerPath     string
	DefaultFeeRate fixed.Dec
	LockWait       time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	LogLevel       string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POOLSWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("state", "./data/pools.json")
	v.SetDefault("ledger", "")
	v.SetDefault("fee-rate", "0.003")
	v.SetDefault("lock-wait", 2*time.Second)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 50*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	feeRate, err := fixed.FromString(v.GetString("fee-rate"))
	if err != nil {
		return Config{}, fmt.Errorf("parse fee-rate: %w", err)
	}
	if feeRate.IsNegative() || feeRate.Cmp(fixed.FromInt(1)) >= 0 {
		return Config{}, fmt.Errorf("fee-rate must be in [0, 1), got %s", feeRate)
	}

	cfg := Config{
		PGDSN:          v.GetString("pg-dsn"),
		StatePath:      v.GetString("state"),
		LedgerPath:     v.GetString("ledger"),
		DefaultFeeRate: feeRate,
		LockWait:       v.GetDuration("lock-wait"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		LogLevel:       v.GetString("log-level"),
	}

	return cfg, nil
}
