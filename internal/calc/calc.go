// Package calc computes the result amount for a single charge line.
// All arithmetic is decimal and carried at full precision; rounding to
// currency minor units happens only at display/persistence boundaries,
// never between chained computations.
package calc

import (
	"github.com/shopspring/decimal"

	"github.com/dealstack/tally/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// BaseAmounts maps base kinds to the monetary amounts they resolve to
// for the deal under evaluation. Kinds absent from the map are not yet
// wired to an amount source and compute to zero.
type BaseAmounts map[domain.BaseKind]decimal.Decimal

// Compute returns the result amount for one charge definition.
//
//   - percent: base amount * rate / 100
//   - fixed:   rate_or_amount, independent of any base
//
// A percent line against an unwired base yields zero rather than an
// error, keeping partial rule catalogs safe to preview.
func Compute(calcType domain.CalcType, base domain.BaseKind, rateOrAmount decimal.Decimal, bases BaseAmounts) decimal.Decimal {
	switch calcType {
	case domain.CalcFixed:
		return rateOrAmount
	case domain.CalcPercent:
		amount, ok := bases[base]
		if !ok {
			return decimal.Zero
		}
		return amount.Mul(rateOrAmount).Div(hundred)
	default:
		return decimal.Zero
	}
}

// ComputeLine is a convenience wrapper over Compute for a rule line.
func ComputeLine(line *domain.RuleLine, bases BaseAmounts) decimal.Decimal {
	return Compute(line.CalcType, line.Base, line.RateOrAmount, bases)
}

// ComputeFee recomputes a committed fee's result against its own
// calc_type/base. Overrides use this rather than the original rule line,
// so they stay meaningful even after the catalog evolves.
func ComputeFee(fee *domain.DealFee, bases BaseAmounts) decimal.Decimal {
	return Compute(fee.CalcType, fee.Base, fee.RateOrAmount, bases)
}
