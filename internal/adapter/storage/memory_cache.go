package storage

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/helioworks/stockcore/internal/port"
)

// MemoryCache is a StockCache for tests and single-process runs.
type MemoryCache struct {
	mu        sync.Mutex
	available map[string]decimal.Decimal
	keys      map[string]bool
}

var _ port.StockCache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		available: make(map[string]decimal.Decimal),
		keys:      make(map[string]bool),
	}
}

func (c *MemoryCache) SetAvailable(ctx context.Context, itemID string, available decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available[itemID] = available
	return nil
}

func (c *MemoryCache) Available(ctx context.Context, itemID string) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	avail, ok := c.available[itemID]
	return avail, ok, nil
}

func (c *MemoryCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}
