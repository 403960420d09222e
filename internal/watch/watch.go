// Package watch runs the resolve, compare, notify and persist cycle.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ipwatch/internal/ipaddr"
	"ipwatch/internal/resolver"
	"ipwatch/internal/state"
	"ipwatch/internal/types"
)

// ExternalResolver finds the external address; *resolver.Resolver satisfies it
type ExternalResolver interface {
	ResolveExternal(ctx context.Context, maxAttempts int) (*types.ResolvedAddress, error)
}

// Notifier delivers a change; *notify.Manager satisfies it
type Notifier interface {
	NotifyIPChange(ctx context.Context, change *types.IPChange) error
}

// Recorder keeps a log of changes; *history.Store satisfies it
type Recorder interface {
	Record(ctx context.Context, change *types.IPChange) error
}

// ServiceList is reloaded at the start of every cycle; *servers.LiveCatalog
// satisfies it
type ServiceList interface {
	Reload(ctx context.Context) error
}

// Config represents driver configuration
type Config struct {
	Machine        string
	TryCount       int
	AttemptsPerTry int
	Blacklist      ipaddr.Blacklist
	Force          bool
	DryRun         bool
}

// Option configures a Driver
type Option func(*Driver)

// WithClock replaces the wall clock
func WithClock(c clock.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithLocalProbe replaces resolver.ProbeLocal
func WithLocalProbe(probe func() string) Option {
	return func(d *Driver) { d.probe = probe }
}

// WithHistory records every notified change
func WithHistory(r Recorder) Option {
	return func(d *Driver) { d.history = r }
}

// WithServiceList reloads services before each cycle resolves
func WithServiceList(services ServiceList) Option {
	return func(d *Driver) { d.services = services }
}

// Driver runs watch cycles
type Driver struct {
	cfg      Config
	resolver ExternalResolver
	store    state.Store
	notifier Notifier
	history  Recorder
	services ServiceList
	probe    func() string
	clock    clock.Clock
	logger   *zap.Logger

	mu     sync.RWMutex
	last   *types.CycleResult
	cycles int
}

// New creates a driver
func New(cfg Config, res ExternalResolver, store state.Store, notifier Notifier, logger *zap.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TryCount < 1 {
		cfg.TryCount = 1
	}
	if cfg.AttemptsPerTry < 1 {
		cfg.AttemptsPerTry = 1
	}

	d := &Driver{
		cfg:      cfg,
		resolver: res,
		store:    store,
		notifier: notifier,
		probe:    resolver.ProbeLocal,
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunOnce performs one cycle. The returned result is also kept for Last,
// and is non-nil even when err is set.
func (d *Driver) RunOnce(ctx context.Context) (*types.CycleResult, error) {
	res := &types.CycleResult{
		CycleID:   uuid.NewString(),
		Machine:   d.cfg.Machine,
		Forced:    d.cfg.Force,
		DryRun:    d.cfg.DryRun,
		StartedAt: d.clock.Now(),
	}

	err := d.cycle(ctx, res)

	res.FinishedAt = d.clock.Now()
	if err != nil {
		res.Error = err.Error()
	}

	d.mu.Lock()
	d.last = res
	d.cycles++
	d.mu.Unlock()

	return res, err
}

func (d *Driver) cycle(ctx context.Context, res *types.CycleResult) error {
	logger := d.logger.With(zap.String("cycle_id", res.CycleID))

	if d.services != nil {
		if err := d.services.Reload(ctx); err != nil {
			return fmt.Errorf("failed to load service list: %w", err)
		}
	}

	previous, err := d.loadPrevious(ctx, logger)
	if err != nil {
		return err
	}
	res.Previous = previous

	local := d.probe()

	resolved, tries, err := d.resolveExternal(ctx, logger)
	res.Attempts = tries
	if err != nil {
		return err
	}

	current := types.SavedIPPair{External: resolved.Value, Local: local}
	res.Current = current
	res.Source = resolved.Source

	res.Changed = previous == nil || !previous.Equal(&current)
	if !res.Changed && !d.cfg.Force {
		logger.Info("Current IP = Old IP. No need to send email.",
			zap.String("external", current.External),
			zap.String("local", current.Local))
		return nil
	}

	if res.Changed {
		logger.Info("Current IP differs from old IP",
			zap.String("external", current.External),
			zap.String("local", current.Local))
	} else {
		logger.Info("Address unchanged, notifying anyway")
	}

	change := &types.IPChange{
		ID:          uuid.NewString(),
		Machine:     d.cfg.Machine,
		NewExternal: current.External,
		NewLocal:    current.Local,
		Source:      resolved.Source,
		Forced:      !res.Changed,
		DetectedAt:  d.clock.Now(),
	}
	if previous != nil {
		change.OldExternal = previous.External
		change.OldLocal = previous.Local
	}

	if err := d.notifier.NotifyIPChange(ctx, change); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	res.Notified = !d.cfg.DryRun

	if d.history != nil {
		if err := d.history.Record(ctx, change); err != nil {
			logger.Warn("Failed to record change", zap.Error(err))
		}
	}

	if err := d.store.Save(ctx, current); err != nil {
		return fmt.Errorf("failed to save address pair: %w", err)
	}

	return nil
}

// loadPrevious returns the saved pair, nil on the first run
func (d *Driver) loadPrevious(ctx context.Context, logger *zap.Logger) (*types.SavedIPPair, error) {
	previous, err := d.store.Load(ctx)
	switch {
	case err == nil:
		return previous, nil
	case errors.Is(err, state.ErrNotFound):
		logger.Info("No saved address pair, treating as first run")
		return nil, nil
	case errors.Is(err, state.ErrCorrupt):
		logger.Warn("Saved address pair is unusable, treating as first run", zap.Error(err))
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to load saved address pair: %w", err)
	}
}

// resolveExternal runs up to TryCount resolutions until one yields a
// well-formed address outside the blacklist.
func (d *Driver) resolveExternal(ctx context.Context, logger *zap.Logger) (*types.ResolvedAddress, int, error) {
	for try := 1; try <= d.cfg.TryCount; try++ {
		addr, err := d.resolver.ResolveExternal(ctx, d.cfg.AttemptsPerTry)
		if err != nil {
			if !errors.Is(err, resolver.ErrNoAddressResolved) {
				return nil, try, err
			}
			logger.Warn("Try failed", zap.Int("try", try), zap.Error(err))
			continue
		}

		if !ipaddr.IsAddress(addr.Value) {
			logger.Warn("Bad IP (malformed)",
				zap.Int("try", try),
				zap.String("ip", addr.Value),
				zap.String("server", addr.Source))
			continue
		}

		if ipaddr.IsBlacklisted(addr.Value, d.cfg.Blacklist, logger) {
			logger.Debug("Bad IP (in blacklist)",
				zap.Int("try", try),
				zap.String("server", addr.Source))
			continue
		}

		logger.Info("Good IP",
			zap.Int("try", try),
			zap.String("ip", addr.Value),
			zap.String("server", addr.Source))
		return addr, try, nil
	}

	return nil, d.cfg.TryCount, fmt.Errorf("%w after %d tries", resolver.ErrNoAddressResolved, d.cfg.TryCount)
}

// Run performs a cycle immediately and then on every tick until ctx is
// cancelled. Cycle errors are logged.
func (d *Driver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}

	ticker := d.clock.Ticker(interval)
	defer ticker.Stop()

	d.logger.Info("Watch loop started", zap.Duration("interval", interval))
	d.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Watch loop stopped")
			return nil
		case <-ticker.C:
			d.runLogged(ctx)
		}
	}
}

func (d *Driver) runLogged(ctx context.Context) {
	res, err := d.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d.logger.Error("Watch cycle failed",
			zap.String("cycle_id", res.CycleID),
			zap.Error(err))
	}
}

// Last returns a copy of the latest cycle result, nil before the first
func (d *Driver) Last() *types.CycleResult {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return nil
	}
	out := *d.last
	if d.last.Previous != nil {
		prev := *d.last.Previous
		out.Previous = &prev
	}
	return &out
}

// Cycles returns how many cycles have run
func (d *Driver) Cycles() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cycles
}
