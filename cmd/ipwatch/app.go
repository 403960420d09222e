package main

import (
	"context"
	"fmt"

	"ipwatch/internal/config"
	"ipwatch/internal/logger"
	"ipwatch/internal/resolver"
	"ipwatch/internal/servers"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app bundles what every command needs
type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

// newApp loads the config and builds the logger. With strict set, the
// machine name and the receivers must be configured.
func newApp(cmd *cobra.Command, strict bool) (*app, error) {
	load := config.LoadSettings
	if strict {
		load = config.LoadConfig
	}
	cfg, err := load(*configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Log
	if *debug {
		logCfg.Level = "debug"
	}
	log, err := logger.New(&logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.File != "" {
		log.Debug("Loaded config", zap.String("file", cfg.File))
	}
	return &app{cfg: cfg, logger: log}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// cache returns the service cache described by the config
func (a *app) cache(opts ...servers.CacheOption) (*servers.Cache, error) {
	return servers.NewCache(servers.CacheConfig{
		Dir:          a.cfg.CacheDir,
		OverrideFile: a.cfg.ServerListFile,
		TTL:          a.cfg.ServerListTTL,
	}, a.logger, opts...)
}

// catalog loads the service list, refreshing the cache when needed
func (a *app) catalog(ctx context.Context) (*servers.Catalog, error) {
	cache, err := a.cache()
	if err != nil {
		return nil, err
	}
	snap, err := cache.Load(ctx)
	if err != nil {
		return nil, err
	}
	return servers.FromSnapshot(snap), nil
}

// liveCatalog returns a catalog that follows the service cache, loaded once
// so that configuration problems surface before any cycle runs
func (a *app) liveCatalog(ctx context.Context) (*servers.LiveCatalog, error) {
	cache, err := a.cache()
	if err != nil {
		return nil, err
	}
	live := servers.NewLiveCatalog(cache)
	if err := live.Reload(ctx); err != nil {
		return nil, err
	}
	return live, nil
}

// resolver returns a resolver picking from picker
func (a *app) resolver(picker resolver.Picker) *resolver.Resolver {
	return resolver.New(picker, nil, resolver.Config{Timeout: a.cfg.FetchTimeout}, a.logger)
}
