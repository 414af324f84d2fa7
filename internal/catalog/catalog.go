// Package catalog manages the versioned rule catalog: regimes, rule
// versions, and their charge lines.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dealstack/tally/internal/domain"
)

// Service is the write and read path for the rule catalog. Writes append
// new rule versions; existing versions are never mutated. Reads go through
// a per-regime snapshot cache invalidated on every catalog write.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithSnapshotTTL overrides the snapshot cache TTL.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// New creates a catalog service.
func New(repo domain.Repository, cache domain.Cache, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		cache: cache,
		ttl:   5 * time.Minute,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRegime registers a new taxing/fee regime.
func (s *Service) CreateRegime(ctx context.Context, tenantID, name, jurisdiction string) (*domain.Regime, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: regime name is required", domain.ErrInvalidInput)
	}

	regime := &domain.Regime{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Name:         name,
		Jurisdiction: jurisdiction,
		Active:       true,
		CreatedAt:    s.now(),
	}

	if err := s.repo.SaveRegime(ctx, tenantID, regime); err != nil {
		return nil, fmt.Errorf("failed to save regime: %w", err)
	}

	slog.Info("regime created",
		"tenant_id", tenantID,
		"regime_id", regime.ID,
		"name", name,
	)

	return regime, nil
}

// Regime returns a single regime.
func (s *Service) Regime(ctx context.Context, tenantID, regimeID string) (*domain.Regime, error) {
	return s.repo.GetRegime(ctx, tenantID, regimeID)
}

// Regimes lists all regimes for a tenant.
func (s *Service) Regimes(ctx context.Context, tenantID string) ([]*domain.Regime, error) {
	return s.repo.ListRegimes(ctx, tenantID)
}

// LineInput describes one charge line of a new rule version.
type LineInput struct {
	Name         string              `json:"name"`
	CalcType     domain.CalcType     `json:"calcType"`
	Base         domain.BaseKind     `json:"base"`
	Kind         domain.LineKind     `json:"kind"`
	RateOrAmount decimal.Decimal     `json:"rateOrAmount"`
	Conditions   domain.ConditionSet `json:"conditions,omitempty"`
}

// RuleVersionInput describes a new rule version to append to a regime.
type RuleVersionInput struct {
	EffectiveFrom time.Time   `json:"effectiveFrom"`
	EffectiveTo   *time.Time  `json:"effectiveTo,omitempty"`
	Active        bool        `json:"active"`
	Lines         []LineInput `json:"lines"`
}

// CreateRuleVersion appends a new immutable rule version to a regime.
// The version number is one greater than the regime's highest existing
// version. An active version whose effective window overlaps another
// active version of the same regime is rejected.
func (s *Service) CreateRuleVersion(ctx context.Context, tenantID, regimeID string, in RuleVersionInput) (*domain.RuleSnapshot, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	if _, err := s.repo.GetRegime(ctx, tenantID, regimeID); err != nil {
		return nil, err
	}

	if in.EffectiveFrom.IsZero() {
		return nil, fmt.Errorf("%w: effectiveFrom is required", domain.ErrInvalidInput)
	}
	if in.EffectiveTo != nil && !in.EffectiveTo.After(in.EffectiveFrom) {
		return nil, fmt.Errorf("%w: effectiveTo must be after effectiveFrom", domain.ErrInvalidInput)
	}

	existing, err := s.repo.ListRules(ctx, tenantID, regimeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	version := 1
	for _, r := range existing {
		if r.Version >= version {
			version = r.Version + 1
		}
		if in.Active && r.Active && windowsOverlap(in.EffectiveFrom, in.EffectiveTo, r.EffectiveFrom, r.EffectiveTo) {
			return nil, fmt.Errorf("%w: effective window overlaps active rule version %d", domain.ErrInvalidInput, r.Version)
		}
	}

	now := s.now()
	rule := &domain.Rule{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		RegimeID:      regimeID,
		Version:       version,
		EffectiveFrom: in.EffectiveFrom,
		EffectiveTo:   in.EffectiveTo,
		Active:        in.Active,
		CreatedAt:     now,
	}

	lines := make([]*domain.RuleLine, 0, len(in.Lines))
	for i, li := range in.Lines {
		line, err := buildLine(tenantID, rule.ID, i, li, now)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	if err := s.repo.SaveRule(ctx, tenantID, rule, lines); err != nil {
		return nil, fmt.Errorf("failed to save rule: %w", err)
	}

	// Snapshot cache must not serve the previous version
	if err := s.cache.InvalidateRuleSnapshot(ctx, tenantID, regimeID); err != nil {
		slog.Warn("snapshot invalidation failed",
			"tenant_id", tenantID,
			"regime_id", regimeID,
			"error", err,
		)
	}

	slog.Info("rule version created",
		"tenant_id", tenantID,
		"regime_id", regimeID,
		"rule_id", rule.ID,
		"version", version,
		"lines", len(lines),
	)

	return &domain.RuleSnapshot{Rule: rule, Lines: lines}, nil
}

func buildLine(tenantID, ruleID string, idx int, in LineInput, now time.Time) (*domain.RuleLine, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: line %d: name is required", domain.ErrInvalidInput, idx)
	}

	switch in.CalcType {
	case domain.CalcPercent, domain.CalcFixed:
	default:
		return nil, fmt.Errorf("%w: line %d: unknown calc type %q", domain.ErrInvalidInput, idx, in.CalcType)
	}

	kind := in.Kind
	if kind == "" {
		kind = domain.KindCharge
	}
	switch kind {
	case domain.KindCharge, domain.KindDiscount:
	default:
		return nil, fmt.Errorf("%w: line %d: unknown line kind %q", domain.ErrInvalidInput, idx, in.Kind)
	}

	base := in.Base
	if base == "" {
		if in.CalcType == domain.CalcPercent {
			base = domain.BaseVehicleSubtotal
		} else {
			base = domain.BaseFlat
		}
	}

	return &domain.RuleLine{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		RuleID:       ruleID,
		Name:         in.Name,
		CalcType:     in.CalcType,
		Base:         base,
		Kind:         kind,
		RateOrAmount: in.RateOrAmount,
		Conditions:   in.Conditions,
		SortOrder:    idx,
		CreatedAt:    now,
	}, nil
}

// Rule returns a single rule version by ID.
func (s *Service) Rule(ctx context.Context, tenantID, ruleID string) (*domain.Rule, error) {
	return s.repo.GetRule(ctx, tenantID, ruleID)
}

// Rules lists all rule versions for a regime, newest version first.
func (s *Service) Rules(ctx context.Context, tenantID, regimeID string) ([]*domain.Rule, error) {
	return s.repo.ListRules(ctx, tenantID, regimeID)
}

// Lines returns the ordered charge lines of a rule version.
func (s *Service) Lines(ctx context.Context, tenantID, ruleID string) ([]*domain.RuleLine, error) {
	return s.repo.GetRuleLines(ctx, tenantID, ruleID)
}

// Snapshot resolves the rule version in effect for a regime at the given
// instant, with its lines. Returns ErrNoActiveRule when no version
// covers the instant. The snapshot cache is consulted first; a cached
// rule whose window does not cover the instant is bypassed, not evicted.
func (s *Service) Snapshot(ctx context.Context, tenantID, regimeID string, at time.Time) (*domain.RuleSnapshot, error) {
	cached, err := s.cache.GetRuleSnapshot(ctx, tenantID, regimeID)
	if err != nil {
		slog.Warn("snapshot cache read failed",
			"tenant_id", tenantID,
			"regime_id", regimeID,
			"error", err,
		)
	}
	if cached != nil && cached.Rule != nil && cached.Rule.Active && cached.Rule.InEffect(at) {
		return cached, nil
	}

	rule, err := s.repo.GetActiveRule(ctx, tenantID, regimeID, at)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNoActiveRule
		}
		return nil, fmt.Errorf("failed to resolve active rule: %w", err)
	}

	lines, err := s.repo.GetRuleLines(ctx, tenantID, rule.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule lines: %w", err)
	}

	snap := &domain.RuleSnapshot{Rule: rule, Lines: lines}
	if err := s.cache.SetRuleSnapshot(ctx, tenantID, regimeID, snap, s.ttl); err != nil {
		slog.Warn("snapshot cache write failed",
			"tenant_id", tenantID,
			"regime_id", regimeID,
			"error", err,
		)
	}

	return snap, nil
}

// windowsOverlap reports whether two half-open effective windows
// intersect. A window ending exactly where the other begins does not
// overlap, matching the read path's half-open resolution. A nil end
// means open-ended.
func windowsOverlap(aFrom time.Time, aTo *time.Time, bFrom time.Time, bTo *time.Time) bool {
	if aTo != nil && !aTo.After(bFrom) {
		return false
	}
	if bTo != nil && !bTo.After(aFrom) {
		return false
	}
	return true
}
