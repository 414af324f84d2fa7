// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dealstack/tally/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRegime stores a regime with tenant isolation.
func (r *SQLRepository) SaveRegime(ctx context.Context, tenantID string, regime *domain.Regime) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO regimes (id, tenant_id, name, jurisdiction, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			jurisdiction = excluded.jurisdiction,
			active = excluded.active
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		regime.ID, tenantID, regime.Name, regime.Jurisdiction,
		boolToInt(regime.Active), regime.CreatedAt,
	)
	return err
}

// GetRegime retrieves a regime by ID with tenant isolation.
func (r *SQLRepository) GetRegime(ctx context.Context, tenantID string, regimeID string) (*domain.Regime, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, jurisdiction, active, created_at
		FROM regimes
		WHERE tenant_id = ? AND id = ?
	`

	var regime domain.Regime
	var active int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, regimeID).Scan(
		&regime.ID, &regime.TenantID, &regime.Name, &regime.Jurisdiction,
		&active, &regime.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	regime.Active = active == 1
	return &regime, nil
}

// ListRegimes retrieves all regimes for a tenant, ordered by name.
func (r *SQLRepository) ListRegimes(ctx context.Context, tenantID string) ([]*domain.Regime, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, jurisdiction, active, created_at
		FROM regimes
		WHERE tenant_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regimes []*domain.Regime
	for rows.Next() {
		var regime domain.Regime
		var active int
		if err := rows.Scan(
			&regime.ID, &regime.TenantID, &regime.Name, &regime.Jurisdiction,
			&active, &regime.CreatedAt,
		); err != nil {
			return nil, err
		}
		regime.Active = active == 1
		regimes = append(regimes, &regime)
	}

	return regimes, rows.Err()
}

// SaveRule stores a rule version and its lines in a single transaction.
// Rule versions are immutable: this is insert-only, never upsert.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.Rule, lines []*domain.RuleLine) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ruleQuery := `
		INSERT INTO rules (id, tenant_id, regime_id, version, effective_from, effective_to, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var effectiveTo any
	if rule.EffectiveTo != nil {
		effectiveTo = *rule.EffectiveTo
	}

	if _, err := tx.ExecContext(ctx, r.rebind(ruleQuery),
		rule.ID, tenantID, rule.RegimeID, rule.Version,
		rule.EffectiveFrom, effectiveTo, boolToInt(rule.Active), rule.CreatedAt,
	); err != nil {
		return err
	}

	lineQuery := `
		INSERT INTO rule_lines (id, tenant_id, rule_id, name, calc_type, base, kind, rate_or_amount, conditions, sort_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, line := range lines {
		conditions, err := marshalConditions(line.Conditions)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.rebind(lineQuery),
			line.ID, tenantID, rule.ID, line.Name,
			string(line.CalcType), string(line.Base), string(line.Kind),
			line.RateOrAmount.String(), conditions, line.SortOrder, line.CreatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRule retrieves a rule version by ID with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.Rule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, regime_id, version, effective_from, effective_to, active, created_at
		FROM rules
		WHERE tenant_id = ? AND id = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

// ListRules retrieves all rule versions for a regime, newest version first.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string, regimeID string) ([]*domain.Rule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, regime_id, version, effective_from, effective_to, active, created_at
		FROM rules
		WHERE tenant_id = ? AND regime_id = ?
		ORDER BY version DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, regimeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// GetActiveRule resolves the regime's rule that is active and whose
// effective window covers the given instant. Windows are half-open:
// effective_to is the first instant no longer covered, matching the
// catalog's write-time overlap check, so a version ending at T and its
// successor starting at T never both match. If the catalog write path
// ever left two rules simultaneously active, the highest version wins;
// that state is a catalog-layer integrity violation, not handled here.
func (r *SQLRepository) GetActiveRule(ctx context.Context, tenantID string, regimeID string, at time.Time) (*domain.Rule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, regime_id, version, effective_from, effective_to, active, created_at
		FROM rules
		WHERE tenant_id = ? AND regime_id = ? AND active = 1
		  AND effective_from <= ?
		  AND (effective_to IS NULL OR effective_to > ?)
		ORDER BY version DESC
		LIMIT 1
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, regimeID, at, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

// GetRuleLines retrieves a rule version's lines ordered by sort_order
// ascending, ties broken by line ID for deterministic output.
func (r *SQLRepository) GetRuleLines(ctx context.Context, tenantID string, ruleID string) ([]*domain.RuleLine, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, rule_id, name, calc_type, base, kind, rate_or_amount, conditions, sort_order, created_at
		FROM rule_lines
		WHERE tenant_id = ? AND rule_id = ?
		ORDER BY sort_order ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []*domain.RuleLine
	for rows.Next() {
		var line domain.RuleLine
		var calcType, base, kind, rate string
		var conditions sql.NullString

		if err := rows.Scan(
			&line.ID, &line.TenantID, &line.RuleID, &line.Name,
			&calcType, &base, &kind, &rate, &conditions,
			&line.SortOrder, &line.CreatedAt,
		); err != nil {
			return nil, err
		}

		line.CalcType = domain.CalcType(calcType)
		line.Base = domain.BaseKind(base)
		line.Kind = domain.LineKind(kind)

		if line.RateOrAmount, err = parseDecimal(rate); err != nil {
			return nil, fmt.Errorf("rule line %s: %w", line.ID, err)
		}
		if line.Conditions, err = unmarshalConditions(conditions.String); err != nil {
			return nil, fmt.Errorf("rule line %s: %w", line.ID, err)
		}

		lines = append(lines, &line)
	}

	return lines, rows.Err()
}

// SaveDealUnit stores a deal unit with tenant isolation.
func (r *SQLRepository) SaveDealUnit(ctx context.Context, tenantID string, unit *domain.DealUnit) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO deal_units (id, tenant_id, deal_id, description, agreed_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			agreed_price = excluded.agreed_price,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		unit.ID, tenantID, unit.DealID, unit.Description,
		unit.AgreedPrice.String(), unit.CreatedAt, unit.UpdatedAt,
	)
	return err
}

// ListDealUnits retrieves a deal's units in creation order.
func (r *SQLRepository) ListDealUnits(ctx context.Context, tenantID string, dealID string) ([]*domain.DealUnit, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, deal_id, description, agreed_price, created_at, updated_at
		FROM deal_units
		WHERE tenant_id = ? AND deal_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []*domain.DealUnit
	for rows.Next() {
		var unit domain.DealUnit
		var price string
		if err := rows.Scan(
			&unit.ID, &unit.TenantID, &unit.DealID, &unit.Description,
			&price, &unit.CreatedAt, &unit.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if unit.AgreedPrice, err = parseDecimal(price); err != nil {
			return nil, fmt.Errorf("deal unit %s: %w", unit.ID, err)
		}
		units = append(units, &unit)
	}

	return units, rows.Err()
}

// CreateDealFees is the commit write path. The duplicate-commit check and
// the inserts run inside one transaction so two racing commits serialize
// on the database rather than both writing.
func (r *SQLRepository) CreateDealFees(ctx context.Context, tenantID string, dealID string, fees []*domain.DealFee) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if len(fees) == 0 {
		return fmt.Errorf("%w: no fees to create", domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing int
	countQuery := `SELECT COUNT(*) FROM deal_fees WHERE tenant_id = ? AND deal_id = ?`
	if err := tx.QueryRowContext(ctx, r.rebind(countQuery), tenantID, dealID).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		return domain.ErrDuplicateCommit
	}

	insertQuery := `
		INSERT INTO deal_fees (id, tenant_id, deal_id, rule_line_id, name, calc_type, base, kind,
			rate_or_amount, result_amount, applies, meta, sort_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, fee := range fees {
		meta, err := json.Marshal(fee.Meta)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.rebind(insertQuery),
			fee.ID, tenantID, dealID, fee.RuleLineID, fee.Name,
			string(fee.CalcType), string(fee.Base), string(fee.Kind),
			fee.RateOrAmount.String(), fee.ResultAmount.String(),
			boolToInt(fee.Applies), string(meta), fee.SortOrder,
			fee.CreatedAt, fee.UpdatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListDealFees retrieves a deal's committed fees in display order.
func (r *SQLRepository) ListDealFees(ctx context.Context, tenantID string, dealID string) ([]*domain.DealFee, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := selectDealFees + `
		WHERE tenant_id = ? AND deal_id = ?
		ORDER BY sort_order ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fees []*domain.DealFee
	for rows.Next() {
		fee, err := scanDealFee(rows)
		if err != nil {
			return nil, err
		}
		fees = append(fees, fee)
	}

	return fees, rows.Err()
}

// GetDealFee retrieves a committed fee by ID with tenant isolation.
func (r *SQLRepository) GetDealFee(ctx context.Context, tenantID string, feeID string) (*domain.DealFee, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := selectDealFees + ` WHERE tenant_id = ? AND id = ?`

	fee, err := scanDealFee(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, feeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return fee, err
}

// UpdateDealFee persists an override patch to a committed fee.
func (r *SQLRepository) UpdateDealFee(ctx context.Context, tenantID string, fee *domain.DealFee) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	meta, err := json.Marshal(fee.Meta)
	if err != nil {
		return err
	}

	query := `
		UPDATE deal_fees
		SET rate_or_amount = ?, result_amount = ?, applies = ?, meta = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		fee.RateOrAmount.String(), fee.ResultAmount.String(),
		boolToInt(fee.Applies), string(meta), fee.UpdatedAt,
		tenantID, fee.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// HasDealFees reports whether any committed fees exist for a deal.
func (r *SQLRepository) HasDealFees(ctx context.Context, tenantID string, dealID string) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM deal_fees WHERE tenant_id = ? AND deal_id = ?`

	var count int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, dealID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// StampDeal records which rule version a deal committed against.
func (r *SQLRepository) StampDeal(ctx context.Context, tenantID string, dealID string, ruleID string, at time.Time) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO deal_stamps (tenant_id, deal_id, tax_rule_version_id, committed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, deal_id) DO UPDATE SET
			tax_rule_version_id = excluded.tax_rule_version_id,
			committed_at = excluded.committed_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, dealID, ruleID, at)
	return err
}

// GetDealStamp retrieves a deal's committed rule version stamp.
func (r *SQLRepository) GetDealStamp(ctx context.Context, tenantID string, dealID string) (*domain.DealStamp, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, deal_id, tax_rule_version_id, committed_at
		FROM deal_stamps
		WHERE tenant_id = ? AND deal_id = ?
	`

	var stamp domain.DealStamp
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, dealID).Scan(
		&stamp.TenantID, &stamp.DealID, &stamp.TaxRuleVersionID, &stamp.CommittedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stamp, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const selectDealFees = `
	SELECT id, tenant_id, deal_id, rule_line_id, name, calc_type, base, kind,
		rate_or_amount, result_amount, applies, meta, sort_order, created_at, updated_at
	FROM deal_fees
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var effectiveTo sql.NullTime
	var active int

	if err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.RegimeID, &rule.Version,
		&rule.EffectiveFrom, &effectiveTo, &active, &rule.CreatedAt,
	); err != nil {
		return nil, err
	}

	rule.Active = active == 1
	if effectiveTo.Valid {
		t := effectiveTo.Time
		rule.EffectiveTo = &t
	}
	return &rule, nil
}

func scanDealFee(row rowScanner) (*domain.DealFee, error) {
	var fee domain.DealFee
	var calcType, base, kind, rate, result string
	var ruleLineID, meta sql.NullString
	var applies int

	if err := row.Scan(
		&fee.ID, &fee.TenantID, &fee.DealID, &ruleLineID, &fee.Name,
		&calcType, &base, &kind, &rate, &result,
		&applies, &meta, &fee.SortOrder, &fee.CreatedAt, &fee.UpdatedAt,
	); err != nil {
		return nil, err
	}

	fee.RuleLineID = ruleLineID.String
	fee.CalcType = domain.CalcType(calcType)
	fee.Base = domain.BaseKind(base)
	fee.Kind = domain.LineKind(kind)
	fee.Applies = applies == 1

	var err error
	if fee.RateOrAmount, err = parseDecimal(rate); err != nil {
		return nil, fmt.Errorf("deal fee %s: %w", fee.ID, err)
	}
	if fee.ResultAmount, err = parseDecimal(result); err != nil {
		return nil, fmt.Errorf("deal fee %s: %w", fee.ID, err)
	}
	if meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &fee.Meta); err != nil {
			return nil, fmt.Errorf("deal fee %s meta: %w", fee.ID, err)
		}
	}

	return &fee, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed decimal %q: %w", s, err)
	}
	return d, nil
}

func marshalConditions(conds domain.ConditionSet) (string, error) {
	if len(conds) == 0 {
		return "", nil
	}
	data, err := json.Marshal(conds)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalConditions(s string) (domain.ConditionSet, error) {
	if s == "" {
		return nil, nil
	}
	var conds domain.ConditionSet
	if err := json.Unmarshal([]byte(s), &conds); err != nil {
		return nil, err
	}
	return conds, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
