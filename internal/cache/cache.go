package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dealstack/tally/internal/domain"
)

// New creates a new cache based on configuration.
// "memory" returns a local LRU; "redis" returns a Redis cache, wrapped in
// a two-phase LRU+Redis layer when EnableTwoPhase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	// Check L1 first
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	// Check L2
	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		// Populate L1 for future reads
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	// Write to L1 with shorter TTL
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, tenantID, key, value, l1TTL); err != nil {
		return err
	}

	// Write to L2 with full TTL
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetRuleSnapshot retrieves a cached rule snapshot, L1 first.
func (c *TwoPhaseCache) GetRuleSnapshot(ctx context.Context, tenantID string, regimeID string) (*domain.RuleSnapshot, error) {
	snap, err := c.local.GetRuleSnapshot(ctx, tenantID, regimeID)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		return snap, nil
	}

	snap, err = c.remote.GetRuleSnapshot(ctx, tenantID, regimeID)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		_ = c.local.SetRuleSnapshot(ctx, tenantID, regimeID, snap, c.l1TTL)
	}

	return snap, nil
}

// SetRuleSnapshot caches a rule snapshot in both L1 and L2.
func (c *TwoPhaseCache) SetRuleSnapshot(ctx context.Context, tenantID string, regimeID string, snap *domain.RuleSnapshot, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.SetRuleSnapshot(ctx, tenantID, regimeID, snap, l1TTL); err != nil {
		return err
	}
	return c.remote.SetRuleSnapshot(ctx, tenantID, regimeID, snap, ttl)
}

// InvalidateRuleSnapshot drops the snapshot from both layers.
func (c *TwoPhaseCache) InvalidateRuleSnapshot(ctx context.Context, tenantID string, regimeID string) error {
	if err := c.local.InvalidateRuleSnapshot(ctx, tenantID, regimeID); err != nil {
		return err
	}
	return c.remote.InvalidateRuleSnapshot(ctx, tenantID, regimeID)
}

// GetDealTotals retrieves cached deal totals, L1 first.
func (c *TwoPhaseCache) GetDealTotals(ctx context.Context, tenantID string, dealID string) (*domain.DealTotals, error) {
	totals, err := c.local.GetDealTotals(ctx, tenantID, dealID)
	if err != nil {
		return nil, err
	}
	if totals != nil {
		return totals, nil
	}

	totals, err = c.remote.GetDealTotals(ctx, tenantID, dealID)
	if err != nil {
		return nil, err
	}
	if totals != nil {
		_ = c.local.SetDealTotals(ctx, tenantID, dealID, totals, c.l1TTL)
	}

	return totals, nil
}

// SetDealTotals caches totals in both L1 and L2.
func (c *TwoPhaseCache) SetDealTotals(ctx context.Context, tenantID string, dealID string, totals *domain.DealTotals, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.SetDealTotals(ctx, tenantID, dealID, totals, l1TTL); err != nil {
		return err
	}
	return c.remote.SetDealTotals(ctx, tenantID, dealID, totals, ttl)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
