package retry

import (
	"encoding/json"
	"errors"
	"time"
)

// Config defines the configuration for the retry mechanism.
type Config struct {
	Enable            bool          `mapstructure:"enable"`              // Enable retry
	InitialAttempts   int           `mapstructure:"initial_attempts"`    // Number of initial fast retries
	InitialInterval   time.Duration `mapstructure:"initial_interval"`    // Interval between initial retries
	MinuteAttempts    int           `mapstructure:"minute_attempts"`     // Number of slower retries
	MinuteInterval    time.Duration `mapstructure:"minute_interval"`     // Interval between slower retries
	FinalRetryTimeout time.Duration `mapstructure:"final_retry_timeout"` // Timeout for one last attempt, skipped when zero
}

// DefaultRetryConfig returns the default retry configuration. It keeps a
// failing notification within one repeat interval of a few minutes.
func DefaultRetryConfig() *Config {
	return &Config{
		Enable:          true,
		InitialAttempts: 3,
		InitialInterval: 2 * time.Second,
		MinuteAttempts:  2,
		MinuteInterval:  30 * time.Second,
	}
}

// Validate validates the retry configuration.
func (cfg *Config) Validate() error {
	if cfg == nil || !cfg.Enable {
		return nil
	}
	if cfg.InitialAttempts <= 0 {
		return errors.New("initial_attempts must be greater than zero")
	}
	if cfg.MinuteAttempts < 0 {
		return errors.New("minute_attempts cannot be negative")
	}
	if cfg.InitialInterval < 0 || cfg.MinuteInterval < 0 || cfg.FinalRetryTimeout < 0 {
		return errors.New("intervals and timeout cannot be negative")
	}
	return nil
}

// String returns a JSON string representation of the Config.
func (cfg *Config) String() string {
	data, _ := json.Marshal(cfg)
	return string(data)
}
