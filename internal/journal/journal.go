// Package journal persists runtime history: per-cycle summaries and per-rule
// evaluation errors. Journaling is optional; an empty driver disables it.
package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pulsar-rules/pulsar/internal/domain"
)

// SQLJournal implements domain.Journal using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLJournal struct {
	db     *sql.DB
	driver string
}

// New creates a journal based on configuration. Returns (nil, nil) when the
// driver is empty, meaning journaling is disabled.
func New(cfg domain.JournalConfig) (domain.Journal, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "":
		return nil, nil
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported journal driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	j := &SQLJournal{db: db, driver: cfg.Driver}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run journal migrations: %w", err)
	}
	return j, nil
}

func (j *SQLJournal) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := j.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// RecordCycle stores one cycle summary.
func (j *SQLJournal) RecordCycle(ctx context.Context, rec *domain.CycleRecord) error {
	query := `
		INSERT INTO cycles (cycle, started_at, duration_ms, rules_fired, write_count, error_count, skewed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	skewed := 0
	if rec.Skewed {
		skewed = 1
	}
	_, err := j.db.ExecContext(ctx, j.rebind(query),
		rec.Cycle, rec.StartedAt, rec.DurationMs,
		rec.RulesFired, rec.WriteCount, rec.ErrorCount, skewed,
	)
	return err
}

// RecordRuleError stores one per-rule failure.
func (j *SQLJournal) RecordRuleError(ctx context.Context, rec *domain.RuleErrorRecord) error {
	query := `
		INSERT INTO rule_errors (cycle, rule_name, kind, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, j.rebind(query),
		rec.Cycle, rec.RuleName, rec.Kind, rec.Detail, rec.OccurredAt,
	)
	return err
}

// Close closes the database handle.
func (j *SQLJournal) Close() error {
	return j.db.Close()
}

func (j *SQLJournal) rebind(query string) string {
	if j.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
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
