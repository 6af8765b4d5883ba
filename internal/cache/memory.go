package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"pricealerts/internal/metrics"
	"pricealerts/internal/models"
)

const backendMemory = "memory"

// MemoryConfig holds configuration for the in-process cache.
type MemoryConfig struct {
	TTL             time.Duration // Freshness window for stored pages
	CleanupInterval time.Duration // Interval for sweeping expired entries
	MaxSize         int           // Maximum number of entries (0 = unlimited)
	Instance        string        // Metrics label
}

// DefaultMemoryConfig returns the default in-process cache configuration.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		TTL:             60 * time.Second,
		CleanupInterval: 1 * time.Minute,
		MaxSize:         10000,
		Instance:        "default",
	}
}

type memoryEntry struct {
	key      string
	page     *models.AlertPage
	ownerID  string
	storedAt time.Time
	elem     *list.Element
}

// MemoryCache is an in-process query cache with an owner index for bulk
// invalidation. Entries are kept in store order so eviction takes the front.
type MemoryCache struct {
	mu          sync.RWMutex
	entries     map[string]*memoryEntry
	byOwner     map[string]map[string]struct{}
	generations map[string]uint64
	order       *list.List
	config      MemoryConfig
	now         func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache creates a cache and starts its cleanup loop when
// CleanupInterval is positive. Call Close to stop it.
func NewMemoryCache(config MemoryConfig) *MemoryCache {
	c := &MemoryCache{
		entries:     make(map[string]*memoryEntry),
		byOwner:     make(map[string]map[string]struct{}),
		generations: make(map[string]uint64),
		order:       list.New(),
		config:      config,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go c.cleanupLoop()
	}

	return c
}

// Get returns a copy of the cached page if it is still fresh.
func (c *MemoryCache) Get(ctx context.Context, key Key) (*models.AlertPage, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key.String()]
	fresh := ok && c.fresh(entry)
	c.mu.RUnlock()

	metrics.RecordCacheLookup(backendMemory, c.config.Instance, fresh)
	if !fresh {
		return nil, false, nil
	}
	return clonePage(entry.page), true, nil
}

// Generation returns the owner's invalidation counter.
func (c *MemoryCache) Generation(ctx context.Context, ownerID string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[ownerID], nil
}

// Put stores a copy of page, replacing any previous entry for key. The page
// is dropped when the owner was invalidated after generation was read.
func (c *MemoryCache) Put(ctx context.Context, key Key, generation uint64, page *models.AlertPage) error {
	k := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[key.OwnerID] != generation {
		metrics.RecordStalePut(backendMemory, c.config.Instance)
		return nil
	}

	if old, exists := c.entries[k]; exists {
		c.removeLocked(k, old)
	} else if c.config.MaxSize > 0 && len(c.entries) >= c.config.MaxSize {
		c.evictOldest()
	}

	entry := &memoryEntry{
		key:      k,
		page:     clonePage(page),
		ownerID:  key.OwnerID,
		storedAt: c.now(),
	}
	entry.elem = c.order.PushBack(entry)
	c.entries[k] = entry

	keys, ok := c.byOwner[key.OwnerID]
	if !ok {
		keys = make(map[string]struct{})
		c.byOwner[key.OwnerID] = keys
	}
	keys[k] = struct{}{}
	return nil
}

// Invalidate removes every entry of ownerID.
func (c *MemoryCache) Invalidate(ctx context.Context, ownerID string) error {
	c.mu.Lock()
	c.generations[ownerID]++
	keys := c.byOwner[ownerID]
	removed := len(keys)
	for k := range keys {
		c.removeLocked(k, c.entries[k])
	}
	c.mu.Unlock()

	metrics.RecordInvalidation(backendMemory, c.config.Instance, removed)
	return nil
}

// Len returns the number of stored entries, fresh or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine.
func (c *MemoryCache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *MemoryCache) fresh(e *memoryEntry) bool {
	return c.now().Sub(e.storedAt) < c.config.TTL
}

// removeLocked drops one entry and its owner index slot. Caller holds mu.
func (c *MemoryCache) removeLocked(k string, e *memoryEntry) {
	delete(c.entries, k)
	c.order.Remove(e.elem)
	if keys, ok := c.byOwner[e.ownerID]; ok {
		delete(keys, k)
		if len(keys) == 0 {
			delete(c.byOwner, e.ownerID)
		}
	}
}

// evictOldest removes the entry stored longest ago. Caller holds mu.
func (c *MemoryCache) evictOldest() {
	if front := c.order.Front(); front != nil {
		e := front.Value.(*memoryEntry)
		c.removeLocked(e.key, e)
	}
}

func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCh:
			return
		}
	}
}

// removeExpired walks from the oldest entry and stops at the first fresh one.
func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(*memoryEntry)
		if c.fresh(e) {
			return
		}
		c.removeLocked(e.key, e)
	}
}
