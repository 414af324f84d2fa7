// Package override mutates committed fees under an audit stamp. It is
// the only write path to a fee after commit.
package override

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dealstack/tally/internal/calc"
	"github.com/dealstack/tally/internal/domain"
	"github.com/dealstack/tally/internal/rollup"
)

// Manager applies manual overrides to committed fees.
type Manager struct {
	repo domain.Repository
	bus  domain.EventBus
	now  func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates an override manager.
func New(repo domain.Repository, bus domain.EventBus, opts ...Option) *Manager {
	m := &Manager{
		repo: repo,
		bus:  bus,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Input describes an override request. Nil fields are left unchanged;
// at least one must be set.
type Input struct {
	NewRate *decimal.Decimal `json:"newRate,omitempty"`
	Applies *bool            `json:"applies,omitempty"`
	Actor   string           `json:"actor"`
}

// Apply overrides a committed fee. A new rate recomputes the result
// amount against the fee's own calc type and base, using the deal's
// current unit subtotal. Toggling applies to false retains the row so
// the override is visible and reversible. The fee's meta keeps its
// original conditions and gains an override stamp naming the actor.
func (m *Manager) Apply(ctx context.Context, tenantID, feeID string, in Input) (*domain.DealFee, error) {
	if in.Actor == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrInvalidOverride)
	}
	if in.NewRate == nil && in.Applies == nil {
		return nil, fmt.Errorf("%w: nothing to change", domain.ErrInvalidOverride)
	}
	if in.NewRate != nil && in.NewRate.IsNegative() {
		return nil, fmt.Errorf("%w: rate must not be negative", domain.ErrInvalidOverride)
	}

	fee, err := m.repo.GetDealFee(ctx, tenantID, feeID)
	if err != nil {
		return nil, err
	}

	if in.NewRate != nil {
		units, err := m.repo.ListDealUnits(ctx, tenantID, fee.DealID)
		if err != nil {
			return nil, fmt.Errorf("failed to load deal units: %w", err)
		}

		fee.RateOrAmount = *in.NewRate
		fee.ResultAmount = calc.ComputeFee(fee, calc.BaseAmounts{
			domain.BaseVehicleSubtotal: rollup.UnitSubtotal(units),
		})
	}

	if in.Applies != nil {
		fee.Applies = *in.Applies
	}

	now := m.now()
	fee.Meta.Override = &domain.OverrideStamp{By: in.Actor, At: now}
	fee.UpdatedAt = now

	if err := m.repo.UpdateDealFee(ctx, tenantID, fee); err != nil {
		return nil, fmt.Errorf("failed to update fee: %w", err)
	}

	m.publish(ctx, tenantID, domain.FeeEvent{
		DealID: fee.DealID,
		FeeID:  fee.ID,
		Actor:  in.Actor,
	})

	slog.Info("fee overridden",
		"tenant_id", tenantID,
		"deal_id", fee.DealID,
		"fee_id", fee.ID,
		"actor", in.Actor,
		"applies", fee.Applies,
	)

	return fee, nil
}

func (m *Manager) publish(ctx context.Context, tenantID string, event domain.FeeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, tenantID, domain.TopicFeeOverridden, payload); err != nil {
		slog.Warn("event publish failed",
			"tenant_id", tenantID,
			"topic", domain.TopicFeeOverridden,
			"deal_id", event.DealID,
			"error", err,
		)
	}
}
