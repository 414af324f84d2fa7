// Package domain defines the core types and interfaces for Tally.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Regime is a named taxing/fee jurisdiction (e.g., "TX-Trucks").
// A regime owns many rule versions over time; at most one is expected to be
// active at any evaluation instant, enforced at rule write time.
type Regime struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantId"`
	Name         string    `json:"name"`
	Jurisdiction string    `json:"jurisdiction"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Rule is an immutable, dated snapshot of a regime's calculation logic.
// Version numbers are strictly increasing per regime in creation order.
type Rule struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	RegimeID      string     `json:"regimeId"`
	Version       int        `json:"version"`
	EffectiveFrom time.Time  `json:"effectiveFrom"`
	EffectiveTo   *time.Time `json:"effectiveTo,omitempty"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// InEffect reports whether the rule's effective window covers the instant.
// Windows are half-open: EffectiveFrom is covered, EffectiveTo is the first
// instant no longer covered, so a successor starting exactly at EffectiveTo
// never coexists with this rule. A nil EffectiveTo means open-ended.
func (r *Rule) InEffect(at time.Time) bool {
	if at.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && !at.Before(*r.EffectiveTo) {
		return false
	}
	return true
}

// CalcType determines how a rule line turns a base amount into a charge.
type CalcType string

const (
	// CalcPercent charges base * rate / 100.
	CalcPercent CalcType = "percent"

	// CalcFixed charges rate_or_amount directly, ignoring the base.
	CalcFixed CalcType = "fixed"
)

// BaseKind identifies the monetary base a percent line is computed against.
// Kinds not wired to an amount source compute to zero rather than failing,
// so a partially configured catalog stays safe to preview.
type BaseKind string

const (
	// BaseVehicleSubtotal is the sum of the deal's agreed unit prices.
	BaseVehicleSubtotal BaseKind = "vehicle_subtotal"

	// BaseFlat is the base for fixed charges; no amount source needed.
	BaseFlat BaseKind = "flat"
)

// LineKind classifies a charge line for rollup purposes.
type LineKind string

const (
	// KindCharge is a regular fee or tax line.
	KindCharge LineKind = "charge"

	// KindDiscount lines are sign-normalized to reduce the total due.
	KindDiscount LineKind = "discount"
)

// RuleLine is one conditional charge definition within a rule version.
// Lines are immutable once their owning rule is referenced by committed
// fees; corrections require a new rule version.
type RuleLine struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenantId"`
	RuleID       string          `json:"ruleId"`
	Name         string          `json:"name"`
	CalcType     CalcType        `json:"calcType"`
	Base         BaseKind        `json:"base"`
	Kind         LineKind        `json:"kind"`
	RateOrAmount decimal.Decimal `json:"rateOrAmount"`
	Conditions   ConditionSet    `json:"conditions,omitempty"`
	SortOrder    int             `json:"sortOrder"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// RuleSnapshot bundles an active rule with its ordered lines.
// This is the unit the catalog caches per regime.
type RuleSnapshot struct {
	Rule  *Rule       `json:"rule"`
	Lines []*RuleLine `json:"lines"`
}
