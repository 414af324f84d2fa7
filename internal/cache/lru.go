// Package cache provides caching implementations for Tally.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dealstack/tally/internal/domain"
)

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the single-node cache and as L1 in two-phase caching.
type LRUCache struct {
	mu      sync.RWMutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get retrieves a value from cache.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	fullKey := c.makeKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[fullKey]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	// Move to front (most recently used)
	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value in cache with TTL.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	fullKey := c.makeKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Update existing entry
	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		return nil
	}

	// Add new entry
	entry := &cacheEntry{
		key:       fullKey,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	elem := c.order.PushFront(entry)
	c.items[fullKey] = elem

	// Evict if over capacity
	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}

	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	fullKey := c.makeKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.removeElement(elem)
	}
	return nil
}

// GetRuleSnapshot retrieves a cached active rule + lines for a regime.
func (c *LRUCache) GetRuleSnapshot(ctx context.Context, tenantID string, regimeID string) (*domain.RuleSnapshot, error) {
	data, err := c.Get(ctx, tenantID, snapshotKey(regimeID))
	if err != nil || data == nil {
		return nil, err
	}

	var snap domain.RuleSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SetRuleSnapshot caches the active rule + lines for a regime.
func (c *LRUCache) SetRuleSnapshot(ctx context.Context, tenantID string, regimeID string, snap *domain.RuleSnapshot, ttl time.Duration) error {
	bytes, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, snapshotKey(regimeID), bytes, ttl)
}

// InvalidateRuleSnapshot drops the cached snapshot after catalog writes.
func (c *LRUCache) InvalidateRuleSnapshot(ctx context.Context, tenantID string, regimeID string) error {
	return c.Delete(ctx, tenantID, snapshotKey(regimeID))
}

// GetDealTotals retrieves cached deal totals.
func (c *LRUCache) GetDealTotals(ctx context.Context, tenantID string, dealID string) (*domain.DealTotals, error) {
	data, err := c.Get(ctx, tenantID, totalsKey(dealID))
	if err != nil || data == nil {
		return nil, err
	}

	var totals domain.DealTotals
	if err := json.Unmarshal(data, &totals); err != nil {
		return nil, err
	}
	return &totals, nil
}

// SetDealTotals caches deal totals computed by the rollup worker.
func (c *LRUCache) SetDealTotals(ctx context.Context, tenantID string, dealID string, totals *domain.DealTotals, ttl time.Duration) error {
	bytes, err := json.Marshal(totals)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, totalsKey(dealID), bytes, ttl)
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) makeKey(tenantID, key string) string {
	return tenantID + ":" + key
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}

func (c *LRUCache) removeOldest() {
	elem := c.order.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}

func snapshotKey(regimeID string) string {
	return "regime:" + regimeID + ":snapshot"
}

func totalsKey(dealID string) string {
	return "deal:" + dealID + ":totals"
}
