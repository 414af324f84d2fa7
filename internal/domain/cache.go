package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations. Supports local LRU
// or Redis, optionally layered two-phase. All methods require tenantID
// for strict multi-tenancy isolation.
//
// The cache only ever holds derived data: rule snapshots (invalidated on
// catalog writes) and last-computed deal totals (dashboard reads; the
// authoritative totals path always recomputes).
type Cache interface {
	// Get retrieves a value from cache. Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetRuleSnapshot retrieves a cached active rule + lines for a regime.
	GetRuleSnapshot(ctx context.Context, tenantID string, regimeID string) (*RuleSnapshot, error)

	// SetRuleSnapshot caches the active rule + lines for a regime.
	SetRuleSnapshot(ctx context.Context, tenantID string, regimeID string, snap *RuleSnapshot, ttl time.Duration) error

	// InvalidateRuleSnapshot drops the cached snapshot after catalog writes.
	InvalidateRuleSnapshot(ctx context.Context, tenantID string, regimeID string) error

	// GetDealTotals retrieves cached deal totals.
	GetDealTotals(ctx context.Context, tenantID string, dealID string) (*DealTotals, error)

	// SetDealTotals caches deal totals computed by the rollup worker.
	SetDealTotals(ctx context.Context, tenantID string, dealID string, totals *DealTotals, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings: check local first, then Redis
	EnableTwoPhase bool
}
