// Package validator performs the structural checks on a parsed rule set and
// system configuration. Errors are accumulated, not fail-fast, so one compile
// pass reports every finding.
package validator

import (
	"fmt"
	"strings"

	"github.com/pulsar-rules/pulsar/internal/domain"
	"github.com/pulsar-rules/pulsar/internal/expr"
)

// ValidateSystemConfig checks the global configuration document.
func ValidateSystemConfig(cfg *domain.SystemConfig) domain.ValidationErrors {
	var errs domain.ValidationErrors
	add := func(code, detail string) {
		errs = append(errs, &domain.ValidationError{Code: code, Detail: detail, File: cfg.SourceFile})
	}

	if cfg.SchemaVersion != domain.SupportedSchemaVersion {
		add(domain.CodeUnsupportedVersion,
			fmt.Sprintf("schema_version %d is not supported (want %d)", cfg.SchemaVersion, domain.SupportedSchemaVersion))
	}
	if len(cfg.ValidSensors) == 0 {
		add(domain.CodeUnknownSensor, "valid_sensors must be non-empty")
	}
	seen := map[string]bool{}
	for _, s := range cfg.ValidSensors {
		if strings.TrimSpace(s) == "" {
			add(domain.CodeUnknownSensor, "valid_sensors must not contain blank entries")
			continue
		}
		if seen[s] {
			add(domain.CodeUnknownSensor, fmt.Sprintf("duplicate sensor %q in valid_sensors", s))
		}
		seen[s] = true
	}
	if cfg.CycleTimeMs <= 0 {
		add(domain.CodeUnsupportedVersion, fmt.Sprintf("cycle_time_ms must be positive, got %d", cfg.CycleTimeMs))
	}
	if cfg.BufferCapacity <= 0 {
		add(domain.CodeUnsupportedVersion, fmt.Sprintf("buffer_capacity must be positive, got %d", cfg.BufferCapacity))
	}
	return errs
}

// Validate checks the rule set against the configuration. On success the AST
// comes back enriched: expression conditions and value expressions carry
// their canonical lowering and referenced sensor lists.
func Validate(rs *domain.RuleSet, cfg *domain.SystemConfig) domain.ValidationErrors {
	v := &ruleValidator{sensors: cfg.SensorSet()}

	if rs.SchemaVersion != domain.SupportedSchemaVersion {
		v.addf(nil, 0, domain.CodeUnsupportedVersion,
			"schema_version %d is not supported (want %d)", rs.SchemaVersion, domain.SupportedSchemaVersion)
	}

	names := map[string]*domain.Rule{}
	for _, r := range rs.Rules {
		if prev, dup := names[r.Name]; dup {
			v.addf(r, r.SourceLine, domain.CodeDuplicateRuleName,
				"name already used at %s:%d", prev.SourceFile, prev.SourceLine)
		}
		names[r.Name] = r
		v.validateRule(r)
	}
	return v.errs
}

type ruleValidator struct {
	sensors map[string]struct{}
	errs    domain.ValidationErrors
}

func (v *ruleValidator) addf(r *domain.Rule, line int, code, format string, args ...any) {
	e := &domain.ValidationError{Code: code, Detail: fmt.Sprintf(format, args...), Line: line}
	if r != nil {
		e.Rule = r.Name
		e.File = r.SourceFile
		if line == 0 {
			e.Line = r.SourceLine
		}
	}
	v.errs = append(v.errs, e)
}

func (v *ruleValidator) validateRule(r *domain.Rule) {
	if strings.TrimSpace(r.Name) == "" {
		v.addf(r, 0, domain.CodeDuplicateRuleName, "rule name must be non-empty")
	}
	if r.Conditions.Empty() {
		v.addf(r, 0, domain.CodeMissingConditions, "rule needs at least one condition in all or any")
	} else {
		v.validateGroup(r, r.Conditions)
	}
	if len(r.Actions) == 0 {
		v.addf(r, 0, domain.CodeMissingActions, "rule needs at least one action")
	}
	for _, a := range r.Actions {
		v.validateAction(r, a)
	}
}

func (v *ruleValidator) validateGroup(r *domain.Rule, g *domain.ConditionGroup) {
	for _, c := range g.All {
		v.validateCondition(r, c)
	}
	for _, c := range g.Any {
		v.validateCondition(r, c)
	}
}

func (v *ruleValidator) validateCondition(r *domain.Rule, c *domain.Condition) {
	switch c.Kind {
	case domain.ConditionComparison:
		cmp := c.Comparison
		v.checkSensor(r, c.SourceLine, cmp.Sensor)
		if _, ok := domain.ValidCompareOps[string(cmp.Operator)]; !ok {
			v.addf(r, c.SourceLine, domain.CodeInvalidOperator, "operator %q is not permitted", cmp.Operator)
		}

	case domain.ConditionExpression:
		ec := c.Expression
		a := expr.AnalyzeBoolean(ec.Expression)
		if !a.Valid() {
			for _, e := range a.Errors {
				v.addf(r, c.SourceLine, domain.CodeInvalidExpression, "%s: %s", e, ec.Expression)
			}
			return
		}
		for _, s := range a.ReferencedSensors {
			v.checkSensor(r, c.SourceLine, s)
		}
		ec.Canonical = a.Canonical
		ec.Sensors = a.ReferencedSensors

	case domain.ConditionThresholdOverTime:
		th := c.Threshold
		v.checkSensor(r, c.SourceLine, th.Sensor)
		if th.DurationMs <= 0 {
			v.addf(r, c.SourceLine, domain.CodeInvalidDuration, "duration must be > 0 ms, got %d", th.DurationMs)
		}

	case domain.ConditionGroupKind:
		v.validateGroup(r, c.Group)

	default:
		v.addf(r, c.SourceLine, domain.CodeInvalidExpression, "unknown condition kind %q", c.Kind)
	}
}

func (v *ruleValidator) validateAction(r *domain.Rule, a *domain.Action) {
	switch a.Kind {
	case domain.ActionSetValue:
		sv := a.SetValue
		if strings.TrimSpace(sv.Key) == "" {
			v.addf(r, a.SourceLine, domain.CodeInvalidAction, "set_value requires a non-empty key")
		} else {
			v.checkSensor(r, a.SourceLine, sv.Key)
		}
		hasValue := sv.Value != nil
		hasExpr := strings.TrimSpace(sv.ValueExpression) != ""
		switch {
		case !hasValue && !hasExpr:
			v.addf(r, a.SourceLine, domain.CodeInvalidAction, "set_value requires value or value_expression")
		case hasValue && hasExpr:
			v.addf(r, a.SourceLine, domain.CodeInvalidAction, "set_value accepts value or value_expression, not both")
		case hasExpr:
			an := expr.Analyze(sv.ValueExpression)
			if !an.Valid() {
				for _, e := range an.Errors {
					v.addf(r, a.SourceLine, domain.CodeInvalidExpression, "%s: %s", e, sv.ValueExpression)
				}
				return
			}
			for _, s := range an.ReferencedSensors {
				v.checkSensor(r, a.SourceLine, s)
			}
			sv.Canonical = an.Canonical
			sv.Sensors = an.ReferencedSensors
		}

	case domain.ActionSendMessage:
		sm := a.SendMessage
		if strings.TrimSpace(sm.Channel) == "" {
			v.addf(r, a.SourceLine, domain.CodeInvalidAction, "send_message requires a non-empty channel")
		}
		if strings.TrimSpace(sm.Message) == "" {
			v.addf(r, a.SourceLine, domain.CodeInvalidAction, "send_message requires a non-empty message")
		}

	default:
		v.addf(r, a.SourceLine, domain.CodeInvalidAction, "unknown action kind %q", a.Kind)
	}
}

func (v *ruleValidator) checkSensor(r *domain.Rule, line int, sensor string) {
	if strings.TrimSpace(sensor) == "" {
		v.addf(r, line, domain.CodeUnknownSensor, "sensor reference must be non-empty")
		return
	}
	if _, ok := v.sensors[sensor]; !ok {
		v.addf(r, line, domain.CodeUnknownSensor, "sensor %q is not in valid_sensors", sensor)
	}
}
