package cache

import (
	"context"
	"sync"
	"time"

	"github.com/arbfeed/paygate/internal/models"
)

// MemoryDatasetCache is a single-process fallback used when Redis is disabled
type MemoryDatasetCache struct {
	mu      sync.RWMutex
	dataset *models.SharedDataset
	expires time.Time
	now     func() time.Time
}

// NewMemoryDatasetCache creates an empty cache
func NewMemoryDatasetCache() *MemoryDatasetCache {
	return &MemoryDatasetCache{now: time.Now}
}

// Get returns the cached dataset; ok is false on a miss or after expiry
func (c *MemoryDatasetCache) Get(_ context.Context) (*models.SharedDataset, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.dataset == nil || !c.now().Before(c.expires) {
		return nil, false, nil
	}
	d := *c.dataset
	return &d, true, nil
}

// Put stores a copy of the dataset for ttl
func (c *MemoryDatasetCache) Put(_ context.Context, d *models.SharedDataset, ttl time.Duration) error {
	if ttl <= 0 || d == nil {
		return nil
	}
	cp := *d

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dataset = &cp
	c.expires = c.now().Add(ttl)
	return nil
}

// Invalidate drops the cached dataset
func (c *MemoryDatasetCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dataset = nil
	return nil
}
