// Package servers maintains the list of address-reporting services: the
// on-disk cache with its expiry, the refresh sources and the in-memory
// catalog the resolver picks from.
package servers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"ipwatch/internal/utils"
)

const (
	// CacheFileName is the cache file name inside the cache directory
	CacheFileName = "serverCache.json"

	// DefaultTTL is the lifetime of a refreshed snapshot
	DefaultTTL = 90 * 24 * time.Hour
)

var (
	// ErrNoServiceList is returned when no source can provide a list
	ErrNoServiceList = errors.New("no service list available")

	// ErrCacheExpired marks a missing, corrupt or stale cache file
	ErrCacheExpired = errors.New("service cache expired")
)

// CacheConfig represents service cache configuration
type CacheConfig struct {
	Dir          string        // Directory holding the cache file
	OverrideFile string        // Optional list file tried before the bundled list
	TTL          time.Duration // Snapshot lifetime, DefaultTTL when zero
}

// Cache persists the service list snapshot
type Cache struct {
	path    string
	ttl     time.Duration
	clock   clock.Clock
	sources []Source
	logger  *zap.Logger
}

// CacheOption configures a Cache
type CacheOption func(*Cache)

// WithClock sets the clock used for expiry checks
func WithClock(c clock.Clock) CacheOption {
	return func(cache *Cache) {
		cache.clock = c
	}
}

// WithSources replaces the default refresh sources
func WithSources(sources ...Source) CacheOption {
	return func(cache *Cache) {
		cache.sources = sources
	}
}

// NewCache creates a service cache rooted at cfg.Dir
func NewCache(cfg CacheConfig, logger *zap.Logger, opts ...CacheOption) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	c := &Cache{
		path:   filepath.Join(cfg.Dir, CacheFileName),
		ttl:    cfg.TTL,
		clock:  clock.New(),
		logger: logger,
	}
	if cfg.OverrideFile != "" {
		c.sources = append(c.sources, FileSource{Path: cfg.OverrideFile})
	}
	c.sources = append(c.sources, BundledSource{})

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Path returns the cache file path
func (c *Cache) Path() string {
	return c.path
}

// Load returns a usable snapshot, refreshing from the configured sources
// when the cache file is expired.
func (c *Cache) Load(ctx context.Context) (*Snapshot, error) {
	snap, err := c.Read()
	if err == nil {
		return snap, nil
	}

	c.logger.Debug("Refreshing service list",
		zap.String("path", c.path),
		zap.String("reason", err.Error()))

	snap, err = c.Refresh(ctx, c.sources...)
	if snap != nil && err != nil {
		// still usable for this run
		c.logger.Warn("Failed to persist service list", zap.Error(err))
		return snap, nil
	}
	return snap, err
}

// Read loads the cache file without refreshing. Any problem is reported as
// ErrCacheExpired.
func (c *Cache) Read() (*Snapshot, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheExpired, err)
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheExpired, err)
	}

	if snap.Expired(c.clock.Now()) {
		return nil, fmt.Errorf("%w: expired at %s", ErrCacheExpired, snap.ExpiryDisplay)
	}

	return snap, nil
}

// Refresh obtains a list from the first available source and persists a
// new snapshot. When only persisting fails, the snapshot is returned along
// with the error.
func (c *Cache) Refresh(ctx context.Context, sources ...Source) (*Snapshot, error) {
	list, src, err := FirstAvailable(ctx, c.logger, sources...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoServiceList, err)
	}

	snap := NewSnapshot(list, c.clock.Now().Add(c.ttl))
	c.logger.Info("Service list refreshed",
		zap.String("source", src.Name()),
		zap.Int("servers", len(snap.Servers)),
		zap.String("expiry", snap.ExpiryDisplay))

	if err := c.Persist(snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// Persist writes the snapshot atomically, replacing the cache file
func (c *Cache) Persist(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode service cache: %w", err)
	}
	return utils.WriteFileAtomic(c.path, data, 0644)
}
