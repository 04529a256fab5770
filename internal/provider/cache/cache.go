package cache

import (
	"context"
	"sync"
	"time"

	"quotewatch/internal/provider"
)

// entry stores the cached payload for a single symbol with expiry.
type entry struct {
	expiresAt time.Time
	raw       []byte
}

// Fetcher caches raw payloads per symbol for a TTL.
// A manual refresh inside the TTL is served from cache; keep the TTL well below the
// poll interval.
type Fetcher struct {
	F        provider.Fetcher
	TTL      time.Duration
	MaxItems int

	// now is replaced in tests.
	now func() time.Time

	mu    sync.RWMutex
	items map[string]entry // key: symbol
}

func (c *Fetcher) Name() string { return c.F.Name() }

func (c *Fetcher) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Fetch returns the cached payload for symbol when still valid, otherwise fetches and stores it.
// Failed fetches are not cached.
func (c *Fetcher) Fetch(ctx context.Context, symbol string) ([]byte, error) {
	if c.TTL <= 0 {
		return c.F.Fetch(ctx, symbol)
	}

	now := c.clock()
	c.mu.RLock()
	e, ok := c.items[symbol]
	c.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		return e.raw, nil
	}

	raw, err := c.F.Fetch(ctx, symbol)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.items == nil {
		c.items = make(map[string]entry)
	}
	c.items[symbol] = entry{expiresAt: now.Add(c.TTL), raw: raw}
	// best-effort cap cache size
	if c.MaxItems > 0 && len(c.items) > c.MaxItems {
		// remove expired first, then arbitrary
		for k, v := range c.items {
			if now.After(v.expiresAt) {
				delete(c.items, k)
			}
		}
		for k := range c.items {
			if len(c.items) <= c.MaxItems {
				break
			}
			if k != symbol {
				delete(c.items, k)
			}
		}
	}
	c.mu.Unlock()

	return raw, nil
}

// Len reports the number of cached symbols.
func (c *Fetcher) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
