package catalog

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dealstack/tally/internal/cache"
	"github.com/dealstack/tally/internal/domain"
	"github.com/dealstack/tally/internal/repository"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "tally-catalog-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	c := cache.NewLRUCache(100)

	t.Cleanup(func() {
		repo.Close()
		c.Close()
		os.Remove(tmpPath)
	})

	return New(repo, c)
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestCreateRegime(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	regime, err := svc.CreateRegime(ctx, "dealer-001", "TX-Trucks", "TX")
	if err != nil {
		t.Fatalf("CreateRegime failed: %v", err)
	}
	if regime.ID == "" || !regime.Active {
		t.Errorf("unexpected regime: %+v", regime)
	}

	got, err := svc.Regime(ctx, "dealer-001", regime.ID)
	if err != nil {
		t.Fatalf("Regime failed: %v", err)
	}
	if got.Name != "TX-Trucks" || got.Jurisdiction != "TX" {
		t.Errorf("round-trip mismatch: %+v", got)
	}

	t.Run("RequiresName", func(t *testing.T) {
		_, err := svc.CreateRegime(ctx, "dealer-001", "", "TX")
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		_, err := svc.CreateRegime(ctx, "", "CA-Autos", "CA")
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestCreateRuleVersion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	tenantID := "dealer-001"

	regime, err := svc.CreateRegime(ctx, tenantID, "TX-Trucks", "TX")
	if err != nil {
		t.Fatalf("CreateRegime failed: %v", err)
	}

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("FirstVersionIsOne", func(t *testing.T) {
		snap, err := svc.CreateRuleVersion(ctx, tenantID, regime.ID, RuleVersionInput{
			EffectiveFrom: from,
			Active:        true,
			Lines: []LineInput{
				{
					Name:         "Sales Tax",
					CalcType:     domain.CalcPercent,
					RateOrAmount: mustDecimal(t, "6.25"),
					Conditions:   domain.ConditionSet{"out_of_state": domain.BoolValue(false)},
				},
				{
					Name:         "Doc Fee",
					CalcType:     domain.CalcFixed,
					RateOrAmount: mustDecimal(t, "150"),
				},
			},
		})
		if err != nil {
			t.Fatalf("CreateRuleVersion failed: %v", err)
		}

		if snap.Rule.Version != 1 {
			t.Errorf("expected version 1, got %d", snap.Rule.Version)
		}
		if len(snap.Lines) != 2 {
			t.Fatalf("expected 2 lines, got %d", len(snap.Lines))
		}
		// defaults fill in the base per calc type
		if snap.Lines[0].Base != domain.BaseVehicleSubtotal {
			t.Errorf("percent line should default to vehicle_subtotal, got %s", snap.Lines[0].Base)
		}
		if snap.Lines[1].Base != domain.BaseFlat {
			t.Errorf("fixed line should default to flat, got %s", snap.Lines[1].Base)
		}
		if snap.Lines[0].SortOrder != 0 || snap.Lines[1].SortOrder != 1 {
			t.Error("sort order should follow input order")
		}
	})

	t.Run("OverlappingActiveWindowRejected", func(t *testing.T) {
		_, err := svc.CreateRuleVersion(ctx, tenantID, regime.ID, RuleVersionInput{
			EffectiveFrom: from.AddDate(0, 6, 0),
			Active:        true,
		})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for overlap, got %v", err)
		}
	})

	t.Run("InactiveVersionMayOverlap", func(t *testing.T) {
		snap, err := svc.CreateRuleVersion(ctx, tenantID, regime.ID, RuleVersionInput{
			EffectiveFrom: from,
			Active:        false,
			Lines: []LineInput{
				{Name: "Draft Tax", CalcType: domain.CalcPercent, RateOrAmount: mustDecimal(t, "7")},
			},
		})
		if err != nil {
			t.Fatalf("CreateRuleVersion failed: %v", err)
		}
		if snap.Rule.Version != 2 {
			t.Errorf("expected version 2, got %d", snap.Rule.Version)
		}
	})

	t.Run("VersionsAreMonotonic", func(t *testing.T) {
		to := from.AddDate(-1, 0, 0)
		older := from.AddDate(-2, 0, 0)
		snap, err := svc.CreateRuleVersion(ctx, tenantID, regime.ID, RuleVersionInput{
			EffectiveFrom: older,
			EffectiveTo:   &to,
			Active:        true,
		})
		if err != nil {
			t.Fatalf("CreateRuleVersion failed: %v", err)
		}
		if snap.Rule.Version != 3 {
			t.Errorf("expected version 3, got %d", snap.Rule.Version)
		}
	})

	t.Run("RejectsBadWindow", func(t *testing.T) {
		badTo := from.AddDate(0, -1, 0)
		_, err := svc.CreateRuleVersion(ctx, tenantID, regime.ID, RuleVersionInput{
			EffectiveFrom: from,
			EffectiveTo:   &badTo,
		})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for inverted window, got %v", err)
		}
	})

	t.Run("RejectsUnknownCalcType", func(t *testing.T) {
		_, err := svc.CreateRuleVersion(ctx, tenantID, regime.ID, RuleVersionInput{
			EffectiveFrom: from.AddDate(10, 0, 0),
			Lines: []LineInput{
				{Name: "Mystery", CalcType: "tiered", RateOrAmount: mustDecimal(t, "1")},
			},
		})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for calc type, got %v", err)
		}
	})

	t.Run("UnknownRegime", func(t *testing.T) {
		_, err := svc.CreateRuleVersion(ctx, tenantID, "regime-missing", RuleVersionInput{
			EffectiveFrom: from,
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRuleVersionHandover(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	tenantID := "dealer-001"

	regime, err := svc.CreateRegime(ctx, tenantID, "TX-Trucks", "TX")
	if err != nil {
		t.Fatalf("CreateRegime failed: %v", err)
	}

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	handover := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	if _, err := svc.CreateRuleVersion(ctx, tenantID, regime.ID, RuleVersionInput{
		EffectiveFrom: from,
		EffectiveTo:   &handover,
		Active:        true,
		Lines: []LineInput{
			{Name: "Sales Tax", CalcType: domain.CalcPercent, RateOrAmount: mustDecimal(t, "6.25")},
		},
	}); err != nil {
		t.Fatalf("CreateRuleVersion failed: %v", err)
	}

	// a successor starting exactly where the first version ends is not an
	// overlap: the first window no longer covers the handover instant
	if _, err := svc.CreateRuleVersion(ctx, tenantID, regime.ID, RuleVersionInput{
		EffectiveFrom: handover,
		Active:        true,
		Lines: []LineInput{
			{Name: "Sales Tax", CalcType: domain.CalcPercent, RateOrAmount: mustDecimal(t, "7")},
		},
	}); err != nil {
		t.Fatalf("adjacent successor rejected: %v", err)
	}

	t.Run("BeforeHandover", func(t *testing.T) {
		snap, err := svc.Snapshot(ctx, tenantID, regime.ID, handover.Add(-time.Second))
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if snap.Rule.Version != 1 {
			t.Errorf("expected version 1 before handover, got %d", snap.Rule.Version)
		}
	})

	t.Run("AtHandoverInstant", func(t *testing.T) {
		snap, err := svc.Snapshot(ctx, tenantID, regime.ID, handover)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if snap.Rule.Version != 2 {
			t.Errorf("expected version 2 at the handover instant, got %d", snap.Rule.Version)
		}
	})
}

func TestSnapshot(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	tenantID := "dealer-001"

	regime, err := svc.CreateRegime(ctx, tenantID, "TX-Trucks", "TX")
	if err != nil {
		t.Fatalf("CreateRegime failed: %v", err)
	}

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	created, err := svc.CreateRuleVersion(ctx, tenantID, regime.ID, RuleVersionInput{
		EffectiveFrom: from,
		Active:        true,
		Lines: []LineInput{
			{Name: "Sales Tax", CalcType: domain.CalcPercent, RateOrAmount: mustDecimal(t, "6.25")},
		},
	})
	if err != nil {
		t.Fatalf("CreateRuleVersion failed: %v", err)
	}

	t.Run("ResolvesActiveRule", func(t *testing.T) {
		snap, err := svc.Snapshot(ctx, tenantID, regime.ID, from.AddDate(0, 3, 0))
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if snap.Rule.ID != created.Rule.ID {
			t.Errorf("expected rule %s, got %s", created.Rule.ID, snap.Rule.ID)
		}
		if len(snap.Lines) != 1 || snap.Lines[0].Name != "Sales Tax" {
			t.Errorf("unexpected lines: %+v", snap.Lines)
		}
	})

	t.Run("CachedSecondRead", func(t *testing.T) {
		snap, err := svc.Snapshot(ctx, tenantID, regime.ID, from.AddDate(0, 3, 0))
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if snap.Rule.ID != created.Rule.ID {
			t.Errorf("cache returned wrong rule: %s", snap.Rule.ID)
		}
	})

	t.Run("BeforeWindowNoRule", func(t *testing.T) {
		_, err := svc.Snapshot(ctx, tenantID, regime.ID, from.AddDate(-1, 0, 0))
		if !errors.Is(err, domain.ErrNoActiveRule) {
			t.Errorf("expected ErrNoActiveRule, got %v", err)
		}
	})

	t.Run("NewVersionInvalidatesCache", func(t *testing.T) {
		to := from.AddDate(0, -1, 0)
		olderFrom := from.AddDate(-1, 0, 0)
		if _, err := svc.CreateRuleVersion(ctx, tenantID, regime.ID, RuleVersionInput{
			EffectiveFrom: olderFrom,
			EffectiveTo:   &to,
			Active:        true,
			Lines: []LineInput{
				{Name: "Old Sales Tax", CalcType: domain.CalcPercent, RateOrAmount: mustDecimal(t, "5")},
			},
		}); err != nil {
			t.Fatalf("CreateRuleVersion failed: %v", err)
		}

		// historical instant resolves the older window after the write
		snap, err := svc.Snapshot(ctx, tenantID, regime.ID, olderFrom.AddDate(0, 1, 0))
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if snap.Rule.Version != 2 {
			t.Errorf("expected version 2 for historical instant, got %d", snap.Rule.Version)
		}
	})
}
