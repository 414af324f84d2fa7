// Package rollup aggregates unit prices and committed fees into
// deal-level totals. ComputeTotals is pure and recomputes all six fields
// together on every invocation: there is no incremental or cached total
// state to keep consistent.
package rollup

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dealstack/tally/internal/domain"
)

// IsTaxName classifies a fee line as a tax by case-insensitive substring
// match on "tax" or "sales" in its name. This reproduces the legacy
// classification exactly for output compatibility.
//
// TODO: replace with a first-class kind=tax tag stamped at rule-line
// authoring time; a fee named "Tax Prep Service" is misclassified today.
func IsTaxName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "tax") || strings.Contains(lower, "sales")
}

// UnitSubtotal sums the agreed prices of the deal's units.
func UnitSubtotal(units []*domain.DealUnit) decimal.Decimal {
	subtotal := decimal.Zero
	for _, u := range units {
		subtotal = subtotal.Add(u.AgreedPrice)
	}
	return subtotal
}

// ComputeTotals derives the deal's financial summary from current
// committed state. Fees with applies=false contribute nothing regardless
// of their result amount. Discounts are sign-normalized so
// discounts_total is always <= 0, and
//
//	total_due = subtotal + fees_total + tax_total + discounts_total
//
// holds by construction. commission_base equals total_due; applying a
// commission rate is an external collaborator concern.
func ComputeTotals(units []*domain.DealUnit, fees []*domain.DealFee) domain.DealTotals {
	subtotal := UnitSubtotal(units)

	discounts := decimal.Zero
	feesTotal := decimal.Zero
	taxTotal := decimal.Zero

	for _, fee := range fees {
		if !fee.Applies {
			continue
		}
		switch {
		case fee.Kind == domain.KindDiscount:
			discounts = discounts.Sub(fee.ResultAmount.Abs())
		case IsTaxName(fee.Name):
			taxTotal = taxTotal.Add(fee.ResultAmount)
		default:
			feesTotal = feesTotal.Add(fee.ResultAmount)
		}
	}

	totalDue := subtotal.Add(feesTotal).Add(taxTotal).Add(discounts)

	return domain.DealTotals{
		Subtotal:       subtotal,
		DiscountsTotal: discounts,
		FeesTotal:      feesTotal,
		TaxTotal:       taxTotal,
		TotalDue:       totalDue,
		CommissionBase: totalDue,
	}
}
