// Package state persists the last known-good address pair.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ipwatch/internal/types"
)

const (
	DriverFile  = "file"
	DriverRedis = "redis"

	// SavedFileName is the file store's file name inside the cache directory
	SavedFileName = "saved_ip.txt"
)

var (
	// ErrNotFound is returned when no pair has been saved yet
	ErrNotFound = errors.New("no saved address pair")

	// ErrCorrupt is returned when the saved pair cannot be used
	ErrCorrupt = errors.New("saved address pair is corrupt")
)

// Store persists the saved address pair
type Store interface {
	Load(ctx context.Context) (*types.SavedIPPair, error)
	Save(ctx context.Context, pair types.SavedIPPair) error
	Close() error
}

// Config represents store configuration
type Config struct {
	Driver string      `mapstructure:"driver" validate:"omitempty,oneof=file redis"`
	Path   string      `mapstructure:"path"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig represents redis store configuration
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Key          string        `mapstructure:"key"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// New creates the store selected by cfg.Driver. The file store falls back
// to <cacheDir>/saved_ip.txt when no path is configured.
func New(cfg Config, cacheDir string, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "", DriverFile:
		path := cfg.Path
		if path == "" {
			if cacheDir == "" {
				return nil, fmt.Errorf("file store needs a path or cache directory")
			}
			path = DefaultPath(cacheDir)
		}
		return NewFileStore(path, logger), nil
	case DriverRedis:
		return NewRedisStore(cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}
