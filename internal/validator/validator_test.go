package validator

import (
	"errors"
	"testing"

	"github.com/pulsar-rules/pulsar/internal/domain"
)

func testConfig(sensors ...string) *domain.SystemConfig {
	return &domain.SystemConfig{
		SchemaVersion:  1,
		ValidSensors:   sensors,
		CycleTimeMs:    100,
		BufferCapacity: 100,
	}
}

func comparisonRule(name, sensor string) *domain.Rule {
	return &domain.Rule{
		Name: name,
		Conditions: &domain.ConditionGroup{
			All: []*domain.Condition{{
				Kind:       domain.ConditionComparison,
				Comparison: &domain.ComparisonCondition{Sensor: sensor, Operator: domain.OpGreater, Value: 1},
			}},
		},
		Actions: []*domain.Action{{
			Kind:     domain.ActionSetValue,
			SetValue: &domain.SetValueAction{Key: sensor, Value: f(1)},
		}},
	}
}

func f(v float64) *float64 { return &v }

func codes(errs domain.ValidationErrors) map[string]int {
	out := map[string]int{}
	for _, e := range errs {
		out[e.Code]++
	}
	return out
}

func TestValidateAcceptsWellFormedRules(t *testing.T) {
	rs := &domain.RuleSet{SchemaVersion: 1, Rules: []*domain.Rule{comparisonRule("r1", "temperature")}}
	if errs := Validate(rs, testConfig("temperature")); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestValidateUnknownSensor(t *testing.T) {
	rs := &domain.RuleSet{SchemaVersion: 1, Rules: []*domain.Rule{comparisonRule("r1", "nope")}}
	errs := Validate(rs, testConfig("temperature"))
	if codes(errs)[domain.CodeUnknownSensor] == 0 {
		t.Errorf("expected UnknownSensor, got %v", errs)
	}
}

func TestValidateDuplicateNames(t *testing.T) {
	rs := &domain.RuleSet{SchemaVersion: 1, Rules: []*domain.Rule{
		comparisonRule("same", "temperature"),
		comparisonRule("same", "temperature"),
	}}
	errs := Validate(rs, testConfig("temperature"))
	if codes(errs)[domain.CodeDuplicateRuleName] != 1 {
		t.Errorf("expected one DuplicateRuleName, got %v", errs)
	}
}

func TestValidateUnsupportedVersion(t *testing.T) {
	rs := &domain.RuleSet{SchemaVersion: 99, Rules: []*domain.Rule{comparisonRule("r1", "temperature")}}
	errs := Validate(rs, testConfig("temperature"))
	if codes(errs)[domain.CodeUnsupportedVersion] == 0 {
		t.Errorf("expected UnsupportedVersion, got %v", errs)
	}
}

func TestValidateAccumulatesAllErrors(t *testing.T) {
	bad := &domain.Rule{
		Name:       "bad",
		Conditions: &domain.ConditionGroup{},
		Actions:    nil,
	}
	alsoBad := &domain.Rule{
		Name: "also_bad",
		Conditions: &domain.ConditionGroup{
			All: []*domain.Condition{{
				Kind:      domain.ConditionThresholdOverTime,
				Threshold: &domain.ThresholdCondition{Sensor: "ghost", Threshold: 1, DurationMs: 0},
			}},
		},
		Actions: []*domain.Action{{
			Kind:     domain.ActionSetValue,
			SetValue: &domain.SetValueAction{Key: ""},
		}},
	}
	rs := &domain.RuleSet{SchemaVersion: 1, Rules: []*domain.Rule{bad, alsoBad}}
	errs := Validate(rs, testConfig("temperature"))

	got := codes(errs)
	for _, want := range []string{
		domain.CodeMissingConditions,
		domain.CodeMissingActions,
		domain.CodeUnknownSensor,
		domain.CodeInvalidDuration,
		domain.CodeInvalidAction,
	} {
		if got[want] == 0 {
			t.Errorf("missing %s in %v", want, errs)
		}
	}
}

func TestValidateEnrichesExpressions(t *testing.T) {
	r := &domain.Rule{
		Name: "expr",
		Conditions: &domain.ConditionGroup{
			All: []*domain.Condition{{
				Kind:       domain.ConditionExpression,
				Expression: &domain.ExpressionCondition{Expression: "temperature > 50"},
			}},
		},
		Actions: []*domain.Action{{
			Kind:     domain.ActionSetValue,
			SetValue: &domain.SetValueAction{Key: "out", ValueExpression: "temperature + 1"},
		}},
	}
	rs := &domain.RuleSet{SchemaVersion: 1, Rules: []*domain.Rule{r}}
	if errs := Validate(rs, testConfig("temperature", "out")); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	ec := r.Conditions.All[0].Expression
	if ec.Canonical == "" || len(ec.Sensors) != 1 || ec.Sensors[0] != "temperature" {
		t.Errorf("expression not enriched: %+v", ec)
	}
	sv := r.Actions[0].SetValue
	if sv.Canonical == "" || len(sv.Sensors) != 1 {
		t.Errorf("value expression not enriched: %+v", sv)
	}
}

func TestValidateRejectsNonBooleanConditionExpression(t *testing.T) {
	r := &domain.Rule{
		Name: "expr",
		Conditions: &domain.ConditionGroup{
			All: []*domain.Condition{{
				Kind:       domain.ConditionExpression,
				Expression: &domain.ExpressionCondition{Expression: "temperature + 1"},
			}},
		},
		Actions: []*domain.Action{{
			Kind:     domain.ActionSetValue,
			SetValue: &domain.SetValueAction{Key: "temperature", Value: f(1)},
		}},
	}
	rs := &domain.RuleSet{SchemaVersion: 1, Rules: []*domain.Rule{r}}
	errs := Validate(rs, testConfig("temperature"))
	if codes(errs)[domain.CodeInvalidExpression] == 0 {
		t.Errorf("expected InvalidExpression, got %v", errs)
	}
}

func TestValidateSetValueExclusivity(t *testing.T) {
	r := comparisonRule("r", "temperature")
	r.Actions[0].SetValue.ValueExpression = "temperature + 1"
	rs := &domain.RuleSet{SchemaVersion: 1, Rules: []*domain.Rule{r}}
	errs := Validate(rs, testConfig("temperature"))
	if codes(errs)[domain.CodeInvalidAction] == 0 {
		t.Errorf("expected InvalidAction for value+value_expression, got %v", errs)
	}
}

func TestValidateSystemConfig(t *testing.T) {
	if errs := ValidateSystemConfig(testConfig("a", "b")); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}

	bad := &domain.SystemConfig{SchemaVersion: 2, ValidSensors: []string{"a", "a", " "}, CycleTimeMs: 0, BufferCapacity: -1}
	errs := ValidateSystemConfig(bad)
	if len(errs) < 4 {
		t.Errorf("expected at least 4 findings, got %v", errs)
	}
}

func TestValidationErrorsImplementError(t *testing.T) {
	var err error = domain.ValidationErrors{{Code: domain.CodeUnknownSensor, Rule: "r", Detail: "x"}}
	var verrs domain.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Error("ValidationErrors must unwrap via errors.As")
	}
}
