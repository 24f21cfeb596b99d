package parser

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/pulsar-rules/pulsar/internal/domain"
)

const sampleRules = `schema_version: 1
rules:
  - name: high_temperature
    description: Alert when the temperature stays high.
    conditions:
      all:
        - condition:
            type: threshold_over_time
            sensor: temperature
            threshold: 50
            duration: 500ms
    actions:
      - set_value:
          key: alerts:temperature
          value: 1
  - name: heat_index
    conditions:
      any:
        - condition:
            type: comparison
            sensor: humidity
            operator: ">="
            value: 70
        - all:
            - condition:
                type: expression
                expression: (temperature - 32) * (5.0/9.0) > 30
    actions:
      - set_value:
          key: heat_index
          value_expression: temperature + humidity
      - send_message:
          channel: alerts
          message: heat index critical
`

func TestParseRuleSet(t *testing.T) {
	rs, warnings, err := ParseRuleSet([]byte(sampleRules), "rules.yaml")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if rs.SchemaVersion != 1 {
		t.Errorf("schema_version = %d", rs.SchemaVersion)
	}
	if len(rs.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rs.Rules))
	}

	r1 := rs.Rules[0]
	if r1.Name != "high_temperature" || r1.Description == "" {
		t.Errorf("unexpected first rule: %+v", r1)
	}
	if r1.SourceFile != "rules.yaml" || r1.SourceLine == 0 {
		t.Errorf("missing provenance: file=%q line=%d", r1.SourceFile, r1.SourceLine)
	}
	if len(r1.Conditions.All) != 1 {
		t.Fatalf("expected 1 all-condition")
	}
	th := r1.Conditions.All[0]
	if th.Kind != domain.ConditionThresholdOverTime {
		t.Fatalf("expected threshold condition, got %s", th.Kind)
	}
	if th.Threshold.Sensor != "temperature" || th.Threshold.Threshold != 50 || th.Threshold.DurationMs != 500 {
		t.Errorf("unexpected threshold: %+v", th.Threshold)
	}
	if len(r1.Actions) != 1 || r1.Actions[0].Kind != domain.ActionSetValue {
		t.Fatalf("unexpected actions: %+v", r1.Actions)
	}
	if r1.Actions[0].SetValue.Key != "alerts:temperature" || *r1.Actions[0].SetValue.Value != 1 {
		t.Errorf("unexpected set_value: %+v", r1.Actions[0].SetValue)
	}

	r2 := rs.Rules[1]
	if len(r2.Conditions.Any) != 2 {
		t.Fatalf("expected 2 any-conditions, got %d", len(r2.Conditions.Any))
	}
	cmp := r2.Conditions.Any[0]
	if cmp.Kind != domain.ConditionComparison || cmp.Comparison.Operator != domain.OpGreaterEqual {
		t.Errorf("unexpected comparison: %+v", cmp)
	}
	nested := r2.Conditions.Any[1]
	if nested.Kind != domain.ConditionGroupKind || len(nested.Group.All) != 1 {
		t.Fatalf("expected nested group, got %+v", nested)
	}
	if nested.Group.All[0].Kind != domain.ConditionExpression {
		t.Errorf("expected expression in nested group")
	}
	if r2.Actions[1].Kind != domain.ActionSendMessage || r2.Actions[1].SendMessage.Channel != "alerts" {
		t.Errorf("unexpected send_message: %+v", r2.Actions[1])
	}
}

func TestParseSystemConfig(t *testing.T) {
	doc := `schema_version: 1
valid_sensors:
  - temperature
  - humidity
cycle_time: 50
buffer_capacity: 20
`
	cfg, _, err := ParseSystemConfig([]byte(doc), "config.yaml")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.CycleTimeMs != 50 || cfg.BufferCapacity != 20 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if len(cfg.ValidSensors) != 2 {
		t.Errorf("expected 2 sensors, got %v", cfg.ValidSensors)
	}
}

func TestParseSystemConfigDefaults(t *testing.T) {
	doc := `schema_version: 1
valid_sensors: [a]
`
	cfg, _, err := ParseSystemConfig([]byte(doc), "config.yaml")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.CycleTimeMs != domain.DefaultCycleTimeMs {
		t.Errorf("cycle default = %d", cfg.CycleTimeMs)
	}
	if cfg.BufferCapacity != domain.DefaultBufferCapacity {
		t.Errorf("buffer default = %d", cfg.BufferCapacity)
	}
}

func TestParseWarnsOnUnknownTopLevelField(t *testing.T) {
	doc := `schema_version: 1
author: somebody
rules: []
`
	_, warnings, err := ParseRuleSet([]byte(doc), "rules.yaml")
	if err != nil {
		t.Fatalf("unknown top-level fields must not fail: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", warnings)
	}
}

func TestParseRejectsUnknownConditionField(t *testing.T) {
	doc := `schema_version: 1
rules:
  - name: r
    conditions:
      all:
        - condition:
            type: comparison
            sensor: temperature
            operator: ">"
            value: 1
            bogus: field
    actions:
      - set_value: {key: out, value: 1}
`
	_, _, err := ParseRuleSet([]byte(doc), "rules.yaml")
	if err == nil {
		t.Fatal("expected schema error for unknown condition field")
	}
	if _, ok := err.(*domain.SchemaError); !ok {
		t.Errorf("expected SchemaError, got %T", err)
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, _, err := ParseRuleSet([]byte("rules:\n  - name: [unclosed"), "rules.yaml")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if _, ok := err.(*domain.ParseError); !ok {
		t.Errorf("expected ParseError, got %T (%v)", err, err)
	}
}

func TestParseRejectsMissingRuleFields(t *testing.T) {
	doc := `schema_version: 1
rules:
  - name: incomplete
    conditions:
      all: []
`
	_, _, err := ParseRuleSet([]byte(doc), "rules.yaml")
	if err == nil {
		t.Fatal("expected schema error for missing actions")
	}
}

func TestASTSerializationRoundTrip(t *testing.T) {
	rs, _, err := ParseRuleSet([]byte(sampleRules), "rules.yaml")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	data, err := json.Marshal(rs)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var back domain.RuleSet
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(rs, &back) {
		t.Error("AST did not survive a serialization round trip")
	}
}

func TestParseDurationUnits(t *testing.T) {
	cases := map[string]int64{
		"500ms": 500,
		"5s":    5000,
		"2m":    120000,
		"1h":    3600000,
		"250":   250,
	}
	for lit, want := range cases {
		got, err := ParseDurationMs(lit)
		if err != nil {
			t.Errorf("%q: unexpected error %v", lit, err)
			continue
		}
		if got != want {
			t.Errorf("%q = %d, want %d", lit, got, want)
		}
	}
	for _, lit := range []string{"", "ms", "5d", "-3s", "1.5s"} {
		if _, err := ParseDurationMs(lit); err == nil {
			t.Errorf("%q: expected error", lit)
		}
	}
}
