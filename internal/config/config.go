package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration for noticebazaar-core.
type Config struct {
	Server struct {
		Address string `mapstructure:"address"` // host:port
	} `mapstructure:"server"`

	Database struct {
		DSN string `mapstructure:"dsn"` // empty means in-memory stores
	} `mapstructure:"database"`

	Auth struct {
		Secret string `mapstructure:"secret"` // HS256 signing secret for staff tokens
	} `mapstructure:"auth"`

	RateLimit struct {
		Burst     int `mapstructure:"burst"`
		PerSecond int `mapstructure:"per_second"`
	} `mapstructure:"rate_limit"`

	OTP struct {
		MaxAttempts int           `mapstructure:"max_attempts"`
		TTL         time.Duration `mapstructure:"ttl"`
	} `mapstructure:"otp"`

	Sweep struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"sweep"`
}

// Load reads configuration from environment variables (NB_* with dots
// replaced by underscores) and an optional YAML file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.address", ":8080")
	v.SetDefault("database.dsn", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.per_second", 10)
	v.SetDefault("otp.max_attempts", 5)
	v.SetDefault("otp.ttl", 10*time.Minute)
	v.SetDefault("sweep.interval", time.Hour)

	if cfgFile := os.Getenv("NB_CONFIG_FILE"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(c *Config) error {
	if strings.TrimSpace(c.Server.Address) == "" {
		return errors.New("server.address must not be empty")
	}
	if c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0 {
		return errors.New("rate_limit.burst and rate_limit.per_second must be positive")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("otp.max_attempts must be positive")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("otp.ttl must be positive")
	}
	if c.Sweep.Interval <= 0 {
		return errors.New("sweep.interval must be positive")
	}
	return nil
}
