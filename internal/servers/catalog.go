package servers

import (
	"errors"
	"math/rand/v2"
	"sync"
)

// ErrEmptyCatalog is returned when there is nothing to pick from
var ErrEmptyCatalog = errors.New("service catalog is empty")

// Catalog is a read-only view of a snapshot's endpoints
type Catalog struct {
	endpoints []string
	mu        sync.Mutex
	rnd       *rand.Rand
}

// CatalogOption configures a Catalog
type CatalogOption func(*Catalog)

// WithRand sets the random source used by Pick
func WithRand(r *rand.Rand) CatalogOption {
	return func(c *Catalog) {
		c.rnd = r
	}
}

// NewCatalog creates a catalog over a copy of endpoints
func NewCatalog(endpoints []string, opts ...CatalogOption) *Catalog {
	list := make([]string, len(endpoints))
	copy(list, endpoints)

	c := &Catalog{endpoints: list}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromSnapshot creates a catalog over the snapshot's servers
func FromSnapshot(snap *Snapshot, opts ...CatalogOption) *Catalog {
	if snap == nil {
		return NewCatalog(nil, opts...)
	}
	return NewCatalog(snap.Servers, opts...)
}

// Pick returns a uniformly random endpoint. Picks are independent, the same
// endpoint may come up twice in a row.
func (c *Catalog) Pick() (string, error) {
	if len(c.endpoints) == 0 {
		return "", ErrEmptyCatalog
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rnd != nil {
		return c.endpoints[c.rnd.IntN(len(c.endpoints))], nil
	}
	return c.endpoints[rand.IntN(len(c.endpoints))], nil
}

// Size returns the number of endpoints
func (c *Catalog) Size() int {
	return len(c.endpoints)
}

// Endpoints returns a copy of the endpoint list
func (c *Catalog) Endpoints() []string {
	list := make([]string, len(c.endpoints))
	copy(list, c.endpoints)
	return list
}
