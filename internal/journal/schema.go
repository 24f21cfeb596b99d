package journal

// Schema definitions for the runtime journal.
// Compatible with both SQLite and PostgreSQL.

const schemaCycles = `
CREATE TABLE IF NOT EXISTS cycles (
    cycle BIGINT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    duration_ms BIGINT NOT NULL,
    rules_fired INTEGER NOT NULL,
    write_count INTEGER NOT NULL,
    error_count INTEGER NOT NULL,
    skewed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_cycles_cycle ON cycles(cycle);
CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at);
`

const schemaRuleErrors = `
CREATE TABLE IF NOT EXISTS rule_errors (
    cycle BIGINT NOT NULL,
    rule_name TEXT NOT NULL,
    kind TEXT NOT NULL,
    detail TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_errors_rule ON rule_errors(rule_name);
CREATE INDEX IF NOT EXISTS idx_rule_errors_cycle ON rule_errors(cycle);
`

// AllSchemas returns every schema statement in creation order.
func AllSchemas() []string {
	return []string{schemaCycles, schemaRuleErrors}
}
