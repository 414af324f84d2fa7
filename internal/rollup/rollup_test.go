package rollup

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/dealstack/tally/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func unit(price string) *domain.DealUnit {
	return &domain.DealUnit{AgreedPrice: dec(price)}
}

func fee(name string, kind domain.LineKind, result string, applies bool) *domain.DealFee {
	return &domain.DealFee{
		Name:         name,
		Kind:         kind,
		ResultAmount: dec(result),
		Applies:      applies,
	}
}

func TestIsTaxName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"Sales Tax", true},
		{"sales tax", true},
		{"County TAX", true},
		{"Sales Surcharge", true},
		{"Doc Fee", false},
		{"Title Fee", false},
		// Known misclassification the heuristic carries for compatibility.
		{"Tax Prep Service", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsTaxName(tc.name), tc.name)
	}
}

func TestComputeTotals_UnitsOnly(t *testing.T) {
	totals := ComputeTotals([]*domain.DealUnit{unit("10000"), unit("15000")}, nil)

	assert.True(t, totals.Subtotal.Equal(dec("25000")))
	assert.True(t, totals.FeesTotal.IsZero())
	assert.True(t, totals.TaxTotal.IsZero())
	assert.True(t, totals.DiscountsTotal.IsZero())
	assert.True(t, totals.TotalDue.Equal(dec("25000")))
	assert.True(t, totals.CommissionBase.Equal(totals.TotalDue))
}

func TestComputeTotals_DiscountAndFee(t *testing.T) {
	// Two units 10000 + 15000, discount of -500, plain fee of 300.
	units := []*domain.DealUnit{unit("10000"), unit("15000")}
	fees := []*domain.DealFee{
		fee("Loyalty Discount", domain.KindDiscount, "-500", true),
		fee("Doc Fee", domain.KindCharge, "300", true),
	}

	totals := ComputeTotals(units, fees)

	assert.True(t, totals.Subtotal.Equal(dec("25000")))
	assert.True(t, totals.DiscountsTotal.Equal(dec("-500")))
	assert.True(t, totals.FeesTotal.Equal(dec("300")))
	assert.True(t, totals.TaxTotal.IsZero())
	assert.True(t, totals.TotalDue.Equal(dec("24800")))
}

func TestComputeTotals_DiscountSignNormalized(t *testing.T) {
	// A discount entered positive still reduces the total.
	fees := []*domain.DealFee{
		fee("Manager Discount", domain.KindDiscount, "500", true),
	}
	totals := ComputeTotals([]*domain.DealUnit{unit("1000")}, fees)

	assert.True(t, totals.DiscountsTotal.Equal(dec("-500")))
	assert.True(t, totals.TotalDue.Equal(dec("500")))
	assert.True(t, totals.DiscountsTotal.LessThanOrEqual(decimal.Zero))
}

func TestComputeTotals_TaxClassification(t *testing.T) {
	units := []*domain.DealUnit{unit("50000")}
	fees := []*domain.DealFee{
		fee("Sales Tax", domain.KindCharge, "3125", true),
		fee("Doc Fee", domain.KindCharge, "150", true),
	}

	totals := ComputeTotals(units, fees)

	assert.True(t, totals.TaxTotal.Equal(dec("3125")))
	assert.True(t, totals.FeesTotal.Equal(dec("150")))
	assert.True(t, totals.TotalDue.Equal(dec("53275")))
}

func TestComputeTotals_NonApplyingFeesContributeNothing(t *testing.T) {
	units := []*domain.DealUnit{unit("50000")}
	fees := []*domain.DealFee{
		fee("Sales Tax", domain.KindCharge, "3125", false),
		fee("Doc Fee", domain.KindCharge, "150", true),
		fee("Big Discount", domain.KindDiscount, "-9999", false),
	}

	totals := ComputeTotals(units, fees)

	assert.True(t, totals.TaxTotal.IsZero())
	assert.True(t, totals.DiscountsTotal.IsZero())
	assert.True(t, totals.FeesTotal.Equal(dec("150")))
	assert.True(t, totals.TotalDue.Equal(dec("50150")))
}

func TestComputeTotals_Identity(t *testing.T) {
	// total_due == subtotal + fees + tax + discounts for a busy deal.
	units := []*domain.DealUnit{unit("20000"), unit("5500.50")}
	fees := []*domain.DealFee{
		fee("Sales Tax", domain.KindCharge, "1593.78", true),
		fee("Road Tax", domain.KindCharge, "88.25", true),
		fee("Doc Fee", domain.KindCharge, "150", true),
		fee("Temp Tag", domain.KindCharge, "12.50", true),
		fee("Fleet Discount", domain.KindDiscount, "-750", true),
		fee("Disabled Fee", domain.KindCharge, "400", false),
	}

	totals := ComputeTotals(units, fees)

	sum := totals.Subtotal.
		Add(totals.FeesTotal).
		Add(totals.TaxTotal).
		Add(totals.DiscountsTotal)
	assert.True(t, totals.TotalDue.Equal(sum))
	assert.True(t, totals.DiscountsTotal.LessThanOrEqual(decimal.Zero))
	assert.True(t, totals.CommissionBase.Equal(totals.TotalDue))
}

func TestComputeTotals_EmptyDeal(t *testing.T) {
	totals := ComputeTotals(nil, nil)
	assert.True(t, totals.TotalDue.IsZero())
	assert.True(t, totals.Subtotal.IsZero())
}
