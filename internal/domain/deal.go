package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DealUnit is a unit attached to a deal with an agreed price. Units are
// owned by the deal/CRM subsystem; Tally consumes them as rollup input.
type DealUnit struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenantId"`
	DealID      string          `json:"dealId"`
	Description string          `json:"description"`
	AgreedPrice decimal.Decimal `json:"agreedPrice"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// OverrideStamp records who last overrode a committed fee and when.
// Only the most recent override is kept.
type OverrideStamp struct {
	By string    `json:"by"`
	At time.Time `json:"at"`
}

// FeeMeta carries provenance on a committed fee: the rule-line conditions
// that selected it at commit time, and the latest override stamp. Prior
// content is preserved when an override re-stamps the fee.
type FeeMeta struct {
	OriginalConditions ConditionSet   `json:"originalConditions,omitempty"`
	Override           *OverrideStamp `json:"override,omitempty"`
}

// DealFee is the durable, per-deal record produced by committing a
// preview. It is created exactly once per commit and mutated only through
// the override manager; re-running the evaluator never touches it.
type DealFee struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenantId"`
	DealID       string          `json:"dealId"`
	RuleLineID   string          `json:"ruleLineId"`
	Name         string          `json:"name"`
	CalcType     CalcType        `json:"calcType"`
	Base         BaseKind        `json:"base"`
	Kind         LineKind        `json:"kind"`
	RateOrAmount decimal.Decimal `json:"rateOrAmount"`
	ResultAmount decimal.Decimal `json:"resultAmount"`
	Applies      bool            `json:"applies"`
	Meta         FeeMeta         `json:"meta"`
	SortOrder    int             `json:"sortOrder"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// DealStamp records which rule version was committed for a deal, for
// audit and reproducibility. The deal record itself lives in the CRM.
type DealStamp struct {
	TenantID         string    `json:"tenantId"`
	DealID           string    `json:"dealId"`
	TaxRuleVersionID string    `json:"taxRuleVersionId"`
	CommittedAt      time.Time `json:"committedAt"`
}

// DealTotals is the deal-level financial summary. It has no independent
// lifecycle: all six fields are recomputed together from current
// committed state on every rollup invocation, never cached as truth.
type DealTotals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountsTotal decimal.Decimal `json:"discountsTotal"`
	FeesTotal      decimal.Decimal `json:"feesTotal"`
	TaxTotal       decimal.Decimal `json:"taxTotal"`
	TotalDue       decimal.Decimal `json:"totalDue"`
	CommissionBase decimal.Decimal `json:"commissionBase"`
}
