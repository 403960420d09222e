package resolver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gammazero/workerpool"
	"go.uber.org/zap"
)

// VerifyResult is the outcome of querying one endpoint
type VerifyResult struct {
	Endpoint string
	Address  string
	Err      error
	Duration time.Duration
}

// Verify queries every endpoint once on a pool of workers. Results keep the
// order of endpoints.
func (r *Resolver) Verify(ctx context.Context, endpoints []string, workers int) []VerifyResult {
	if workers < 1 {
		workers = 1
	}

	results := make([]VerifyResult, len(endpoints))
	pool := workerpool.New(workers)
	for i, endpoint := range endpoints {
		i, endpoint := i, endpoint
		pool.Submit(func() {
			res := VerifyResult{Endpoint: endpoint}
			if err := ctx.Err(); err != nil {
				res.Err = err
				results[i] = res
				return
			}

			start := time.Now()
			res.Address, res.Err = r.Query(ctx, endpoint)
			res.Duration = time.Since(start)
			if res.Err != nil {
				r.logger.Debug("Endpoint verification failed",
					zap.String("server", endpoint),
					zap.Error(res.Err))
			}
			results[i] = res
		})
	}
	pool.StopWait()

	return results
}

// AddressCount is the number of endpoints reporting an address
type AddressCount struct {
	Address string
	Count   int
}

// Summary aggregates verify results
type Summary struct {
	Total     int
	Failed    int
	Addresses []AddressCount // most reported first
}

// Consistent reports whether every successful endpoint agreed
func (s Summary) Consistent() bool {
	return len(s.Addresses) == 1
}

// Err fails the sweep unless exactly one address was reported
func (s Summary) Err() error {
	switch len(s.Addresses) {
	case 0:
		return ErrNoAddressResolved
	case 1:
		return nil
	default:
		return fmt.Errorf("%w: %d distinct addresses", ErrServicesDisagree, len(s.Addresses))
	}
}

// Summarize counts the distinct addresses in results
func Summarize(results []VerifyResult) Summary {
	counts := make(map[string]int)
	s := Summary{Total: len(results)}
	for _, res := range results {
		if res.Err != nil || res.Address == "" {
			s.Failed++
			continue
		}
		counts[res.Address]++
	}

	for addr, n := range counts {
		s.Addresses = append(s.Addresses, AddressCount{Address: addr, Count: n})
	}
	sort.Slice(s.Addresses, func(i, j int) bool {
		if s.Addresses[i].Count != s.Addresses[j].Count {
			return s.Addresses[i].Count > s.Addresses[j].Count
		}
		return s.Addresses[i].Address < s.Addresses[j].Address
	})
	return s
}
