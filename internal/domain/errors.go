package domain

import (
	"fmt"
	"strings"
)

// Diagnostic codes used across compile-time errors and warnings.
const (
	CodeUnsupportedVersion  = "UnsupportedVersion"
	CodeDuplicateRuleName   = "DuplicateRuleName"
	CodeUnknownSensor       = "UnknownSensor"
	CodeInvalidOperator     = "InvalidOperator"
	CodeInvalidDuration     = "InvalidDuration"
	CodeInvalidAction       = "InvalidAction"
	CodeInvalidExpression   = "InvalidExpression"
	CodeMissingConditions   = "MissingConditions"
	CodeMissingActions      = "MissingActions"
	CodeDuplicateProducer   = "DuplicateProducer"
	CodeDeepDependencyChain = "DeepDependencyChain"
)

// Diagnostic is a non-fatal compile-time finding.
type Diagnostic struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
	Rule   string `json:"rule,omitempty"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Rule != "" {
		return fmt.Sprintf("%s: rule %q: %s", d.Code, d.Rule, d.Detail)
	}
	return fmt.Sprintf("%s: %s", d.Code, d.Detail)
}

// ParseError reports malformed YAML.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: parse error: %s", e.Path, e.Line, e.Column, e.Detail)
}

// SchemaError reports a structurally valid document with missing or
// wrong-kind fields.
type SchemaError struct {
	Path   string
	Line   int
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s:%d: schema error: %s", e.Path, e.Line, e.Detail)
}

// ValidationError is one structural finding against a rule set.
type ValidationError struct {
	Code   string
	Rule   string
	Detail string
	File   string
	Line   int
}

func (e *ValidationError) Error() string {
	loc := ""
	if e.File != "" {
		loc = fmt.Sprintf("%s:%d: ", e.File, e.Line)
	}
	if e.Rule != "" {
		return fmt.Sprintf("%s%s: rule %q: %s", loc, e.Code, e.Rule, e.Detail)
	}
	return fmt.Sprintf("%s%s: %s", loc, e.Code, e.Detail)
}

// ValidationErrors is the accumulated batch from one validation pass.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	lines := make([]string, 0, len(e))
	for _, v := range e {
		lines = append(lines, v.Error())
	}
	return fmt.Sprintf("%d validation error(s):\n%s", len(e), strings.Join(lines, "\n"))
}

// DependencyError aborts compilation when the producer graph is cyclic.
// Every distinct cycle is listed; deep chains surface as warnings elsewhere.
type DependencyError struct {
	Cycles [][]string
}

func (e *DependencyError) Error() string {
	lines := make([]string, 0, len(e.Cycles))
	for _, c := range e.Cycles {
		lines = append(lines, strings.Join(c, " -> "))
	}
	return fmt.Sprintf("%d dependency cycle(s):\n%s", len(e.Cycles), strings.Join(lines, "\n"))
}

// PlanEmitError wraps an I/O failure while writing plan or manifest.
type PlanEmitError struct {
	Path string
	Err  error
}

func (e *PlanEmitError) Error() string {
	return fmt.Sprintf("emit %s: %v", e.Path, e.Err)
}

func (e *PlanEmitError) Unwrap() error { return e.Err }
