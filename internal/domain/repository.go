package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence. All methods
// require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Regime operations
	SaveRegime(ctx context.Context, tenantID string, regime *Regime) error
	GetRegime(ctx context.Context, tenantID string, regimeID string) (*Regime, error)
	ListRegimes(ctx context.Context, tenantID string) ([]*Regime, error)

	// Rule catalog operations. SaveRule persists a rule version together
	// with its lines in one transaction; lines are never written alone.
	SaveRule(ctx context.Context, tenantID string, rule *Rule, lines []*RuleLine) error
	GetRule(ctx context.Context, tenantID string, ruleID string) (*Rule, error)
	ListRules(ctx context.Context, tenantID string, regimeID string) ([]*Rule, error)
	GetActiveRule(ctx context.Context, tenantID string, regimeID string, at time.Time) (*Rule, error)
	GetRuleLines(ctx context.Context, tenantID string, ruleID string) ([]*RuleLine, error)

	// Deal unit operations
	SaveDealUnit(ctx context.Context, tenantID string, unit *DealUnit) error
	ListDealUnits(ctx context.Context, tenantID string, dealID string) ([]*DealUnit, error)

	// Committed fee operations. CreateDealFees is the commit write path:
	// it checks for existing fees and inserts inside a single transaction,
	// returning ErrDuplicateCommit if any fee rows already exist.
	CreateDealFees(ctx context.Context, tenantID string, dealID string, fees []*DealFee) error
	ListDealFees(ctx context.Context, tenantID string, dealID string) ([]*DealFee, error)
	GetDealFee(ctx context.Context, tenantID string, feeID string) (*DealFee, error)
	UpdateDealFee(ctx context.Context, tenantID string, fee *DealFee) error
	HasDealFees(ctx context.Context, tenantID string, dealID string) (bool, error)

	// Audit stamp recording which rule version a deal committed against.
	StampDeal(ctx context.Context, tenantID string, dealID string, ruleID string, at time.Time) error
	GetDealStamp(ctx context.Context, tenantID string, dealID string) (*DealStamp, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
