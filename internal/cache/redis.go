package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dealstack/tally/internal/domain"
)

// RedisCache implements Cache using Redis.
// Used as the distributed cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	fullKey := c.makeKey(tenantID, key)
	val, err := c.client.Get(ctx, fullKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	fullKey := c.makeKey(tenantID, key)
	return c.client.Set(ctx, fullKey, value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	fullKey := c.makeKey(tenantID, key)
	return c.client.Del(ctx, fullKey).Err()
}

// GetRuleSnapshot retrieves a cached active rule + lines for a regime.
func (c *RedisCache) GetRuleSnapshot(ctx context.Context, tenantID string, regimeID string) (*domain.RuleSnapshot, error) {
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
func (c *RedisCache) SetRuleSnapshot(ctx context.Context, tenantID string, regimeID string, snap *domain.RuleSnapshot, ttl time.Duration) error {
	bytes, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, snapshotKey(regimeID), bytes, ttl)
}

// InvalidateRuleSnapshot drops the cached snapshot after catalog writes.
func (c *RedisCache) InvalidateRuleSnapshot(ctx context.Context, tenantID string, regimeID string) error {
	return c.Delete(ctx, tenantID, snapshotKey(regimeID))
}

// GetDealTotals retrieves cached deal totals.
func (c *RedisCache) GetDealTotals(ctx context.Context, tenantID string, dealID string) (*domain.DealTotals, error) {
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
func (c *RedisCache) SetDealTotals(ctx context.Context, tenantID string, dealID string, totals *domain.DealTotals, ttl time.Duration) error {
	bytes, err := json.Marshal(totals)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, totalsKey(dealID), bytes, ttl)
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(tenantID, key string) string {
	return "tally:" + tenantID + ":" + key
}
