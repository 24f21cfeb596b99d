package domain

import (
	"context"
	"time"
)

// CycleRecord summarizes one orchestrator cycle.
type CycleRecord struct {
	Cycle      uint64
	StartedAt  time.Time
	DurationMs int64
	RulesFired int
	WriteCount int
	ErrorCount int
	Skewed     bool
}

// RuleErrorRecord captures a per-rule evaluation failure.
type RuleErrorRecord struct {
	Cycle      uint64
	RuleName   string
	Kind       string // "expression" or "store"
	Detail     string
	OccurredAt time.Time
}

// Journal persists runtime history for operators; all methods are best-effort
// from the orchestrator's point of view.
type Journal interface {
	RecordCycle(ctx context.Context, rec *CycleRecord) error
	RecordRuleError(ctx context.Context, rec *RuleErrorRecord) error
	Close() error
}
