package logger

import "fmt"

// Config represents logging configuration. The console always gets a
// copy of every entry; File adds a rotated JSON log next to it.
type Config struct {
	Name       string `mapstructure:"name"`   // logger name, shown as "logger"
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // console encoding: text or json
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// Console encodings
const (
	FormatText = "text"
	FormatJSON = "json"
)

// DefaultConfig returns console-only text logging at info level
func DefaultConfig() *Config {
	return &Config{
		Name:       "ipwatch",
		Level:      "info",
		Format:     FormatText,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
	}
}

// SetDefaults returns a copy with zero values replaced by defaults
func (cfg *Config) SetDefaults() *Config {
	out := *cfg
	def := DefaultConfig()
	if out.Name == "" {
		out.Name = def.Name
	}
	if out.Level == "" {
		out.Level = def.Level
	}
	if out.Format == "" {
		out.Format = def.Format
	}
	if out.MaxSize <= 0 {
		out.MaxSize = def.MaxSize
	}
	if out.MaxBackups <= 0 {
		out.MaxBackups = def.MaxBackups
	}
	if out.MaxAge <= 0 {
		out.MaxAge = def.MaxAge
	}
	return &out
}

// Validate checks level, format and rotation size
func (cfg *Config) Validate() error {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Level)
	}
	switch cfg.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}
	if cfg.MaxSize <= 0 {
		return fmt.Errorf("max_size must be positive")
	}
	return nil
}
