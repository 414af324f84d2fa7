package repository

// Schema definitions for the Tally database.
// Compatible with both SQLite and PostgreSQL. Monetary values are stored
// as TEXT decimal strings so no precision is lost at the storage boundary.

const schemaRegimes = `
CREATE TABLE IF NOT EXISTS regimes (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    jurisdiction TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_regimes_tenant ON regimes(tenant_id);
CREATE INDEX IF NOT EXISTS idx_regimes_active ON regimes(tenant_id, active);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    regime_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    effective_from TIMESTAMP NOT NULL,
    effective_to TIMESTAMP,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (tenant_id, regime_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rules_tenant ON rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rules_regime ON rules(tenant_id, regime_id);
CREATE INDEX IF NOT EXISTS idx_rules_active ON rules(tenant_id, regime_id, active);
`

const schemaRuleLines = `
CREATE TABLE IF NOT EXISTS rule_lines (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    name TEXT NOT NULL,
    calc_type TEXT NOT NULL,
    base TEXT NOT NULL,
    kind TEXT NOT NULL,
    rate_or_amount TEXT NOT NULL,
    conditions TEXT,
    sort_order INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_lines_rule ON rule_lines(tenant_id, rule_id);
CREATE INDEX IF NOT EXISTS idx_rule_lines_order ON rule_lines(tenant_id, rule_id, sort_order);
`

const schemaDealUnits = `
CREATE TABLE IF NOT EXISTS deal_units (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    deal_id TEXT NOT NULL,
    description TEXT,
    agreed_price TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deal_units_deal ON deal_units(tenant_id, deal_id);
`

const schemaDealFees = `
CREATE TABLE IF NOT EXISTS deal_fees (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    deal_id TEXT NOT NULL,
    rule_line_id TEXT,
    name TEXT NOT NULL,
    calc_type TEXT NOT NULL,
    base TEXT NOT NULL,
    kind TEXT NOT NULL,
    rate_or_amount TEXT NOT NULL,
    result_amount TEXT NOT NULL,
    applies INTEGER NOT NULL DEFAULT 1,
    meta TEXT,
    sort_order INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deal_fees_deal ON deal_fees(tenant_id, deal_id);
CREATE INDEX IF NOT EXISTS idx_deal_fees_order ON deal_fees(tenant_id, deal_id, sort_order);
`

// schemaDealStamps records which rule version a deal committed against.
// The deal record itself is owned by the CRM subsystem; only the audit
// stamp lives here.
const schemaDealStamps = `
CREATE TABLE IF NOT EXISTS deal_stamps (
    tenant_id TEXT NOT NULL,
    deal_id TEXT NOT NULL,
    tax_rule_version_id TEXT NOT NULL,
    committed_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, deal_id)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRegimes,
		schemaRules,
		schemaRuleLines,
		schemaDealUnits,
		schemaDealFees,
		schemaDealStamps,
	}
}
