package servers

import (
	"context"
	"sync"
)

// LiveCatalog picks from the service list held by a Cache. Reload
// re-reads the cache file, refreshing it when it has expired, so that
// long-running callers follow both expiry and external edits.
type LiveCatalog struct {
	cache *Cache
	opts  []CatalogOption

	mu      sync.RWMutex
	current *Catalog
}

// NewLiveCatalog creates a catalog backed by cache. It is empty until
// the first Reload.
func NewLiveCatalog(cache *Cache, opts ...CatalogOption) *LiveCatalog {
	return &LiveCatalog{cache: cache, opts: opts}
}

// Reload loads the current snapshot through the cache. On failure the
// previously loaded list is kept.
func (l *LiveCatalog) Reload(ctx context.Context) error {
	snap, err := l.cache.Load(ctx)
	if err != nil {
		return err
	}
	catalog := FromSnapshot(snap, l.opts...)

	l.mu.Lock()
	l.current = catalog
	l.mu.Unlock()
	return nil
}

func (l *LiveCatalog) catalog() *Catalog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Pick returns a uniformly random endpoint from the last loaded list
func (l *LiveCatalog) Pick() (string, error) {
	c := l.catalog()
	if c == nil {
		return "", ErrEmptyCatalog
	}
	return c.Pick()
}

// Endpoints returns a copy of the last loaded list
func (l *LiveCatalog) Endpoints() []string {
	c := l.catalog()
	if c == nil {
		return nil
	}
	return c.Endpoints()
}
