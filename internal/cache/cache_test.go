package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dealstack/tally/internal/domain"
)

func TestLRUCacheBasicOps(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "dealer-001", "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := c.Get(ctx, "dealer-001", "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected value1, got %s", val)
		}
	})

	t.Run("MissReturnsNilNil", func(t *testing.T) {
		val, err := c.Get(ctx, "dealer-001", "absent")
		if err != nil || val != nil {
			t.Errorf("expected nil, nil for miss, got %v, %v", val, err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		val, err := c.Get(ctx, "dealer-002", "key1")
		if err != nil || val != nil {
			t.Errorf("expected miss for other tenant, got %v, %v", val, err)
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		if err := c.Set(ctx, "dealer-001", "short", []byte("x"), time.Millisecond); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)

		val, err := c.Get(ctx, "dealer-001", "short")
		if err != nil || val != nil {
			t.Errorf("expected expired miss, got %v, %v", val, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set(ctx, "dealer-001", "gone", []byte("x"), time.Minute)
		if err := c.Delete(ctx, "dealer-001", "gone"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		val, _ := c.Get(ctx, "dealer-001", "gone")
		if val != nil {
			t.Error("expected miss after delete")
		}
	})

	t.Run("TenantIDRequired", func(t *testing.T) {
		if _, err := c.Get(ctx, "", "key1"); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(3)
	defer c.Close()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d"} {
		c.Set(ctx, "dealer-001", key, []byte(key), time.Minute)
	}

	// "a" is the oldest and should be evicted
	val, _ := c.Get(ctx, "dealer-001", "a")
	if val != nil {
		t.Error("expected oldest entry evicted")
	}
	val, _ = c.Get(ctx, "dealer-001", "d")
	if string(val) != "d" {
		t.Error("expected newest entry retained")
	}

	size, capacity := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("expected size 3 / cap 3, got %d / %d", size, capacity)
	}
}

func TestLRUCacheRuleSnapshot(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	rate, _ := decimal.NewFromString("6.25")
	snap := &domain.RuleSnapshot{
		Rule: &domain.Rule{ID: "rule-001", RegimeID: "regime-001", Version: 3, Active: true},
		Lines: []*domain.RuleLine{
			{
				ID: "line-001", RuleID: "rule-001", Name: "Sales Tax",
				CalcType: domain.CalcPercent, Base: domain.BaseVehicleSubtotal,
				Kind: domain.KindCharge, RateOrAmount: rate,
				Conditions: domain.ConditionSet{"out_of_state": domain.BoolValue(false)},
			},
		},
	}

	if err := c.SetRuleSnapshot(ctx, "dealer-001", "regime-001", snap, time.Minute); err != nil {
		t.Fatalf("SetRuleSnapshot failed: %v", err)
	}

	got, err := c.GetRuleSnapshot(ctx, "dealer-001", "regime-001")
	if err != nil {
		t.Fatalf("GetRuleSnapshot failed: %v", err)
	}
	if got == nil || got.Rule.Version != 3 || len(got.Lines) != 1 {
		t.Fatalf("snapshot round-trip mismatch: %+v", got)
	}
	if !got.Lines[0].RateOrAmount.Equal(rate) {
		t.Errorf("rate round-trip mismatch: %s", got.Lines[0].RateOrAmount)
	}
	// typed conditions survive the JSON round trip
	required, ok := got.Lines[0].Conditions["out_of_state"]
	if !ok || !required.Equal(domain.BoolValue(false)) {
		t.Errorf("conditions round-trip mismatch: %+v", got.Lines[0].Conditions)
	}

	if err := c.InvalidateRuleSnapshot(ctx, "dealer-001", "regime-001"); err != nil {
		t.Fatalf("InvalidateRuleSnapshot failed: %v", err)
	}
	got, _ = c.GetRuleSnapshot(ctx, "dealer-001", "regime-001")
	if got != nil {
		t.Error("expected miss after invalidation")
	}
}

func TestLRUCacheDealTotals(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	due, _ := decimal.NewFromString("53275")
	totals := &domain.DealTotals{TotalDue: due, CommissionBase: due}

	if err := c.SetDealTotals(ctx, "dealer-001", "deal-001", totals, time.Minute); err != nil {
		t.Fatalf("SetDealTotals failed: %v", err)
	}

	got, err := c.GetDealTotals(ctx, "dealer-001", "deal-001")
	if err != nil {
		t.Fatalf("GetDealTotals failed: %v", err)
	}
	if got == nil || !got.TotalDue.Equal(due) {
		t.Errorf("totals round-trip mismatch: %+v", got)
	}

	got, _ = c.GetDealTotals(ctx, "dealer-001", "deal-999")
	if got != nil {
		t.Error("expected miss for unknown deal")
	}
}

func TestNewCacheFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 5})
	if err != nil {
		t.Fatalf("New memory cache failed: %v", err)
	}
	c.Close()

	if _, err := New(domain.CacheConfig{Type: "bogus"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
