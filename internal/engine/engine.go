// Package engine evaluates the active rule catalog against deal facts.
// Preview is repeatable and side-effect free; Commit materializes the
// preview into durable fees exactly once per deal.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dealstack/tally/internal/calc"
	"github.com/dealstack/tally/internal/catalog"
	"github.com/dealstack/tally/internal/domain"
	"github.com/dealstack/tally/internal/match"
	"github.com/dealstack/tally/internal/rollup"
)

// Evaluator runs the preview/commit pipeline for deals.
type Evaluator struct {
	catalog *catalog.Service
	repo    domain.Repository
	bus     domain.EventBus
	now     func() time.Time
	tracer  trace.Tracer
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		e.now = now
	}
}

// New creates an evaluator.
func New(cat *catalog.Service, repo domain.Repository, bus domain.EventBus, opts ...Option) *Evaluator {
	e := &Evaluator{
		catalog: cat,
		repo:    repo,
		bus:     bus,
		now:     time.Now,
		tracer:  otel.Tracer("tally/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PreviewLine is one computed charge in a preview. It mirrors the fields
// a committed fee will carry, without an identity of its own.
type PreviewLine struct {
	RuleLineID   string              `json:"ruleLineId"`
	Name         string              `json:"name"`
	CalcType     domain.CalcType     `json:"calcType"`
	Base         domain.BaseKind     `json:"base"`
	Kind         domain.LineKind     `json:"kind"`
	RateOrAmount decimal.Decimal     `json:"rateOrAmount"`
	ResultAmount decimal.Decimal     `json:"resultAmount"`
	Conditions   domain.ConditionSet `json:"conditions,omitempty"`
	SortOrder    int                 `json:"sortOrder"`
}

// Preview is the transient result of evaluating a deal against a regime.
// An empty Lines slice is a valid preview: it means no regime was
// selected or no rule version covers the evaluation instant.
type Preview struct {
	DealID      string          `json:"dealId"`
	RegimeID    string          `json:"regimeId,omitempty"`
	RuleID      string          `json:"ruleId,omitempty"`
	RuleVersion int             `json:"ruleVersion,omitempty"`
	EvaluatedAt time.Time       `json:"evaluatedAt"`
	Lines       []PreviewLine   `json:"lines"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// CommitResult is what a successful commit produced.
type CommitResult struct {
	Fees  []*domain.DealFee `json:"fees"`
	Stamp *domain.DealStamp `json:"stamp"`
}

// AddUnit attaches a unit with an agreed price to a deal.
func (e *Evaluator) AddUnit(ctx context.Context, tenantID, dealID, description string, agreedPrice decimal.Decimal) (*domain.DealUnit, error) {
	if tenantID == "" || dealID == "" {
		return nil, fmt.Errorf("%w: tenantID and dealID are required", domain.ErrInvalidInput)
	}
	if agreedPrice.IsNegative() {
		return nil, fmt.Errorf("%w: agreed price must not be negative", domain.ErrInvalidInput)
	}

	now := e.now()
	unit := &domain.DealUnit{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		DealID:      dealID,
		Description: description,
		AgreedPrice: agreedPrice,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.repo.SaveDealUnit(ctx, tenantID, unit); err != nil {
		return nil, fmt.Errorf("failed to save deal unit: %w", err)
	}
	return unit, nil
}

// Units lists the units attached to a deal.
func (e *Evaluator) Units(ctx context.Context, tenantID, dealID string) ([]*domain.DealUnit, error) {
	return e.repo.ListDealUnits(ctx, tenantID, dealID)
}

// Preview evaluates the deal against the regime's active rule at the
// given instant. No regime, an unknown regime, or a regime with no rule
// version in effect all yield an empty preview rather than an error.
func (e *Evaluator) Preview(ctx context.Context, tenantID, dealID, regimeID string, facts domain.Facts, at time.Time) (*Preview, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Preview",
		trace.WithAttributes(
			attribute.String("deal.id", dealID),
			attribute.String("regime.id", regimeID),
		))
	defer span.End()

	if tenantID == "" || dealID == "" {
		return nil, fmt.Errorf("%w: tenantID and dealID are required", domain.ErrInvalidInput)
	}
	if at.IsZero() {
		at = e.now()
	}

	units, err := e.repo.ListDealUnits(ctx, tenantID, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to load deal units: %w", err)
	}
	subtotal := rollup.UnitSubtotal(units)

	preview := &Preview{
		DealID:      dealID,
		RegimeID:    regimeID,
		EvaluatedAt: at,
		Lines:       []PreviewLine{},
		Subtotal:    subtotal,
	}

	if regimeID == "" {
		return preview, nil
	}

	snap, err := e.catalog.Snapshot(ctx, tenantID, regimeID, at)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveRule) || errors.Is(err, domain.ErrNotFound) {
			return preview, nil
		}
		return nil, err
	}

	preview.RuleID = snap.Rule.ID
	preview.RuleVersion = snap.Rule.Version

	bases := calc.BaseAmounts{
		domain.BaseVehicleSubtotal: subtotal,
	}

	for _, line := range match.Filter(snap.Lines, facts) {
		preview.Lines = append(preview.Lines, PreviewLine{
			RuleLineID:   line.ID,
			Name:         line.Name,
			CalcType:     line.CalcType,
			Base:         line.Base,
			Kind:         line.Kind,
			RateOrAmount: line.RateOrAmount,
			ResultAmount: calc.ComputeLine(line, bases),
			Conditions:   line.Conditions,
			SortOrder:    line.SortOrder,
		})
	}

	span.SetAttributes(attribute.Int("preview.lines", len(preview.Lines)))
	return preview, nil
}

// Commit evaluates the deal and materializes the resulting lines as
// durable fees, exactly once. The deal is stamped with the rule version
// it committed against. Subsequent commits fail with ErrDuplicateCommit
// and leave the existing fees untouched; a commit that would produce
// zero fees fails with ErrEmptyCommit.
func (e *Evaluator) Commit(ctx context.Context, tenantID, dealID, regimeID string, facts domain.Facts, at time.Time) (*CommitResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Commit",
		trace.WithAttributes(
			attribute.String("deal.id", dealID),
			attribute.String("regime.id", regimeID),
		))
	defer span.End()

	// Fast path; CreateDealFees re-checks inside its transaction.
	committed, err := e.repo.HasDealFees(ctx, tenantID, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing fees: %w", err)
	}
	if committed {
		return nil, domain.ErrDuplicateCommit
	}

	preview, err := e.Preview(ctx, tenantID, dealID, regimeID, facts, at)
	if err != nil {
		return nil, err
	}
	if len(preview.Lines) == 0 {
		return nil, domain.ErrEmptyCommit
	}

	now := e.now()
	fees := make([]*domain.DealFee, 0, len(preview.Lines))
	for _, line := range preview.Lines {
		fees = append(fees, &domain.DealFee{
			ID:           uuid.New().String(),
			TenantID:     tenantID,
			DealID:       dealID,
			RuleLineID:   line.RuleLineID,
			Name:         line.Name,
			CalcType:     line.CalcType,
			Base:         line.Base,
			Kind:         line.Kind,
			RateOrAmount: line.RateOrAmount,
			ResultAmount: line.ResultAmount,
			Applies:      true,
			Meta: domain.FeeMeta{
				OriginalConditions: line.Conditions,
			},
			SortOrder: line.SortOrder,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := e.repo.CreateDealFees(ctx, tenantID, dealID, fees); err != nil {
		return nil, err
	}

	if err := e.repo.StampDeal(ctx, tenantID, dealID, preview.RuleID, now); err != nil {
		return nil, fmt.Errorf("failed to stamp deal: %w", err)
	}

	stamp := &domain.DealStamp{
		TenantID:         tenantID,
		DealID:           dealID,
		TaxRuleVersionID: preview.RuleID,
		CommittedAt:      now,
	}

	e.publishFeeEvent(ctx, tenantID, domain.TopicFeeCommitted, domain.FeeEvent{
		DealID:        dealID,
		RuleVersionID: preview.RuleID,
		FeeCount:      len(fees),
	})

	slog.Info("deal fees committed",
		"tenant_id", tenantID,
		"deal_id", dealID,
		"rule_id", preview.RuleID,
		"rule_version", preview.RuleVersion,
		"fees", len(fees),
	)

	return &CommitResult{Fees: fees, Stamp: stamp}, nil
}

// Fees lists the committed fees of a deal in commit order.
func (e *Evaluator) Fees(ctx context.Context, tenantID, dealID string) ([]*domain.DealFee, error) {
	return e.repo.ListDealFees(ctx, tenantID, dealID)
}

// Stamp returns the rule-version audit stamp for a committed deal.
func (e *Evaluator) Stamp(ctx context.Context, tenantID, dealID string) (*domain.DealStamp, error) {
	return e.repo.GetDealStamp(ctx, tenantID, dealID)
}

// Totals recomputes the deal's financial summary from current committed
// state. This is the authoritative path; the cache written by the rollup
// worker only serves dashboard reads.
func (e *Evaluator) Totals(ctx context.Context, tenantID, dealID string) (*domain.DealTotals, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Totals",
		trace.WithAttributes(attribute.String("deal.id", dealID)))
	defer span.End()

	units, err := e.repo.ListDealUnits(ctx, tenantID, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to load deal units: %w", err)
	}
	fees, err := e.repo.ListDealFees(ctx, tenantID, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to load deal fees: %w", err)
	}

	totals := rollup.ComputeTotals(units, fees)
	return &totals, nil
}

func (e *Evaluator) publishFeeEvent(ctx context.Context, tenantID, topic string, event domain.FeeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Warn("event publish failed",
			"tenant_id", tenantID,
			"topic", topic,
			"deal_id", event.DealID,
			"error", err,
		)
	}
}
