package override

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dealstack/tally/internal/bus"
	"github.com/dealstack/tally/internal/domain"
	"github.com/dealstack/tally/internal/repository"
	"github.com/dealstack/tally/internal/rollup"
)

func newTestManager(t *testing.T) (*Manager, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "tally-override-*.db")
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

	b := bus.NewChannelBus(100)

	t.Cleanup(func() {
		b.Close()
		repo.Close()
		os.Remove(tmpPath)
	})

	return New(repo, b), repo
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

// seedCommittedDeal persists one unit and two committed fees the way the
// evaluator would have written them.
func seedCommittedDeal(t *testing.T, repo domain.Repository, tenantID, dealID string) (taxFeeID, docFeeID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := repo.SaveDealUnit(ctx, tenantID, &domain.DealUnit{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		DealID:      dealID,
		Description: "2026 Kenworth T680",
		AgreedPrice: mustDecimal(t, "50000"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		t.Fatalf("SaveDealUnit failed: %v", err)
	}

	tax := &domain.DealFee{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		DealID:       dealID,
		Name:         "Sales Tax",
		CalcType:     domain.CalcPercent,
		Base:         domain.BaseVehicleSubtotal,
		Kind:         domain.KindCharge,
		RateOrAmount: mustDecimal(t, "6.25"),
		ResultAmount: mustDecimal(t, "3125"),
		Applies:      true,
		Meta: domain.FeeMeta{
			OriginalConditions: domain.ConditionSet{"out_of_state": domain.BoolValue(false)},
		},
		SortOrder: 0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc := &domain.DealFee{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		DealID:       dealID,
		Name:         "Doc Fee",
		CalcType:     domain.CalcFixed,
		Base:         domain.BaseFlat,
		Kind:         domain.KindCharge,
		RateOrAmount: mustDecimal(t, "150"),
		ResultAmount: mustDecimal(t, "150"),
		Applies:      true,
		SortOrder:    1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := repo.CreateDealFees(ctx, tenantID, dealID, []*domain.DealFee{tax, doc}); err != nil {
		t.Fatalf("CreateDealFees failed: %v", err)
	}

	return tax.ID, doc.ID
}

func TestApplyRateOverride(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()
	tenantID := "dealer-001"

	taxFeeID, _ := seedCommittedDeal(t, repo, tenantID, "deal-001")

	newRate := mustDecimal(t, "5")
	fee, err := mgr.Apply(ctx, tenantID, taxFeeID, Input{
		NewRate: &newRate,
		Actor:   "finance-mgr-7",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// percent fee recomputes against the deal's unit subtotal
	if !fee.RateOrAmount.Equal(newRate) {
		t.Errorf("rate: %s", fee.RateOrAmount)
	}
	if !fee.ResultAmount.Equal(mustDecimal(t, "2500")) {
		t.Errorf("result: %s", fee.ResultAmount)
	}

	if fee.Meta.Override == nil || fee.Meta.Override.By != "finance-mgr-7" {
		t.Errorf("missing override stamp: %+v", fee.Meta)
	}
	// original conditions survive the override
	required, ok := fee.Meta.OriginalConditions["out_of_state"]
	if !ok || !required.Equal(domain.BoolValue(false)) {
		t.Errorf("original conditions lost: %+v", fee.Meta)
	}

	persisted, err := repo.GetDealFee(ctx, tenantID, taxFeeID)
	if err != nil {
		t.Fatalf("GetDealFee failed: %v", err)
	}
	if !persisted.ResultAmount.Equal(mustDecimal(t, "2500")) {
		t.Errorf("persisted result: %s", persisted.ResultAmount)
	}
}

func TestApplyFixedRateOverrideIgnoresBase(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()
	tenantID := "dealer-001"

	_, docFeeID := seedCommittedDeal(t, repo, tenantID, "deal-001")

	newRate := mustDecimal(t, "175")
	fee, err := mgr.Apply(ctx, tenantID, docFeeID, Input{
		NewRate: &newRate,
		Actor:   "finance-mgr-7",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if !fee.ResultAmount.Equal(mustDecimal(t, "175")) {
		t.Errorf("fixed fee result should equal new rate, got %s", fee.ResultAmount)
	}
}

func TestApplyWaiveFee(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()
	tenantID := "dealer-001"

	taxFeeID, _ := seedCommittedDeal(t, repo, tenantID, "deal-001")

	applies := false
	fee, err := mgr.Apply(ctx, tenantID, taxFeeID, Input{
		Applies: &applies,
		Actor:   "finance-mgr-7",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if fee.Applies {
		t.Error("fee should not apply after waive")
	}
	// the row is retained, not deleted
	fees, err := repo.ListDealFees(ctx, tenantID, "deal-001")
	if err != nil {
		t.Fatalf("ListDealFees failed: %v", err)
	}
	if len(fees) != 2 {
		t.Errorf("expected 2 rows after waive, got %d", len(fees))
	}

	// waived fee contributes nothing to totals
	units, _ := repo.ListDealUnits(ctx, tenantID, "deal-001")
	totals := rollup.ComputeTotals(units, fees)
	if !totals.TaxTotal.IsZero() {
		t.Errorf("waived tax should not count, got %s", totals.TaxTotal)
	}
	if !totals.TotalDue.Equal(mustDecimal(t, "50150")) {
		t.Errorf("total due: %s", totals.TotalDue)
	}
}

func TestApplyLatestOverrideWins(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()
	tenantID := "dealer-001"

	taxFeeID, _ := seedCommittedDeal(t, repo, tenantID, "deal-001")

	first := mustDecimal(t, "5")
	if _, err := mgr.Apply(ctx, tenantID, taxFeeID, Input{NewRate: &first, Actor: "mgr-a"}); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}

	second := mustDecimal(t, "4")
	fee, err := mgr.Apply(ctx, tenantID, taxFeeID, Input{NewRate: &second, Actor: "mgr-b"})
	if err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}

	if fee.Meta.Override.By != "mgr-b" {
		t.Errorf("stamp should name the latest actor, got %s", fee.Meta.Override.By)
	}
	if !fee.ResultAmount.Equal(mustDecimal(t, "2000")) {
		t.Errorf("result: %s", fee.ResultAmount)
	}
}

func TestApplyValidation(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()
	tenantID := "dealer-001"

	taxFeeID, _ := seedCommittedDeal(t, repo, tenantID, "deal-001")
	rate := mustDecimal(t, "5")

	t.Run("RequiresActor", func(t *testing.T) {
		_, err := mgr.Apply(ctx, tenantID, taxFeeID, Input{NewRate: &rate})
		if !errors.Is(err, domain.ErrInvalidOverride) {
			t.Errorf("expected ErrInvalidOverride, got %v", err)
		}
	})

	t.Run("RequiresChange", func(t *testing.T) {
		_, err := mgr.Apply(ctx, tenantID, taxFeeID, Input{Actor: "mgr-a"})
		if !errors.Is(err, domain.ErrInvalidOverride) {
			t.Errorf("expected ErrInvalidOverride, got %v", err)
		}
	})

	t.Run("RejectsNegativeRate", func(t *testing.T) {
		bad := mustDecimal(t, "-1")
		_, err := mgr.Apply(ctx, tenantID, taxFeeID, Input{NewRate: &bad, Actor: "mgr-a"})
		if !errors.Is(err, domain.ErrInvalidOverride) {
			t.Errorf("expected ErrInvalidOverride, got %v", err)
		}
	})

	t.Run("UnknownFee", func(t *testing.T) {
		_, err := mgr.Apply(ctx, tenantID, "fee-missing", Input{NewRate: &rate, Actor: "mgr-a"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
