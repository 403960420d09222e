// Package resolver determines the external address by querying
// address-reporting services, and the local address of the outbound
// interface.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ipwatch/internal/ipaddr"
	"ipwatch/internal/types"
)

// DefaultTimeout bounds a single service query
const DefaultTimeout = 4 * time.Second

var (
	// ErrNoAddressResolved is returned when every attempt failed
	ErrNoAddressResolved = errors.New("no address resolved")
	// ErrServicesDisagree is returned by verify when services report
	// different addresses
	ErrServicesDisagree = errors.New("services disagree on the external address")

	errNoMatch = errors.New("no IPv4 address in response")
)

// Picker selects the next endpoint to query; *servers.Catalog satisfies it
type Picker interface {
	Pick() (string, error)
}

// Config represents resolver configuration
type Config struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Resolver queries picked services until one reports an address
type Resolver struct {
	picker  Picker
	fetcher Fetcher
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a resolver
func New(picker Picker, fetcher Fetcher, cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fetcher == nil {
		fetcher = NewSchemeFetcher()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Resolver{
		picker:  picker,
		fetcher: fetcher,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// ResolveExternal makes up to maxAttempts queries, each against a freshly
// picked service, and returns the first address found.
func (r *Resolver) ResolveExternal(ctx context.Context, maxAttempts int) (*types.ResolvedAddress, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("%w: no attempts allowed", ErrNoAddressResolved)
	}

	var errs error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		endpoint, err := r.picker.Pick()
		if err != nil {
			return nil, fmt.Errorf("failed to pick service: %w", err)
		}

		value, err := r.Query(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("Address lookup failed",
				zap.String("server", endpoint),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", endpoint, err))
			continue
		}

		r.logger.Debug("Resolved external address",
			zap.String("address", value),
			zap.String("server", endpoint),
			zap.Int("attempt", attempt))
		return &types.ResolvedAddress{Value: value, Source: endpoint}, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrNoAddressResolved, maxAttempts, errs)
}

// Query asks a single endpoint for the address, bounded by the configured
// timeout.
func (r *Resolver) Query(ctx context.Context, endpoint string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := r.fetcher.Fetch(ctx, endpoint)
	if err != nil {
		return "", err
	}

	text, err := decodeBody(body)
	if err != nil {
		return "", err
	}

	ip, ok := ipaddr.ExtractIPv4(text)
	if !ok {
		return "", errNoMatch
	}
	return ip, nil
}
