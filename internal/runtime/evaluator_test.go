package runtime

import (
	"testing"

	"github.com/google/cel-go/cel"

	"github.com/pulsar-rules/pulsar/internal/buffer"
	"github.com/pulsar-rules/pulsar/internal/domain"
	"github.com/pulsar-rules/pulsar/internal/expr"
)

func f(v float64) *float64 { return &v }

func testEnv(t *testing.T) *cel.Env {
	t.Helper()
	env, err := expr.NewEnv()
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	return env
}

func comparison(sensor string, op domain.CompareOp, value float64) *domain.Condition {
	return &domain.Condition{
		Kind:       domain.ConditionComparison,
		Comparison: &domain.ComparisonCondition{Sensor: sensor, Operator: op, Value: value},
	}
}

func expression(t *testing.T, src string) *domain.Condition {
	t.Helper()
	a := expr.AnalyzeBoolean(src)
	if !a.Valid() {
		t.Fatalf("analyze %q: %v", src, a.Errors)
	}
	return &domain.Condition{
		Kind:       domain.ConditionExpression,
		Expression: &domain.ExpressionCondition{Expression: src, Canonical: a.Canonical, Sensors: a.ReferencedSensors},
	}
}

func setValue(key string, v float64) *domain.Action {
	return &domain.Action{Kind: domain.ActionSetValue, SetValue: &domain.SetValueAction{Key: key, Value: f(v)}}
}

func snapshot(values map[string]float64) *Snapshot {
	m := make(map[string]domain.Value, len(values))
	for k, v := range values {
		m[k] = domain.NumValue(v)
	}
	return NewSnapshot(m)
}

func compile(t *testing.T, pr *domain.PlanRule) *CompiledRule {
	t.Helper()
	cr, err := CompileRule(testEnv(t), pr)
	if err != nil {
		t.Fatalf("compile rule: %v", err)
	}
	return cr
}

func TestEvaluateComparisonOperators(t *testing.T) {
	cases := []struct {
		op    domain.CompareOp
		value float64
		want  bool
	}{
		{domain.OpGreater, 50, true},
		{domain.OpGreaterEqual, 55, true},
		{domain.OpLess, 55, false},
		{domain.OpLessEqual, 55, true},
		{domain.OpEqual, 55, true},
		{domain.OpNotEqual, 55, false},
	}
	for _, tc := range cases {
		cr := compile(t, &domain.PlanRule{
			Name:       "cmp",
			Conditions: &domain.ConditionGroup{All: []*domain.Condition{comparison("temperature", tc.op, tc.value)}},
			Actions:    []*domain.Action{setValue("out", 1)},
		})
		res := cr.Evaluate(snapshot(map[string]float64{"temperature": 55}), buffer.NewSet(10))
		if res.Err != nil {
			t.Fatalf("op %s: %v", tc.op, res.Err)
		}
		if res.Fired != tc.want {
			t.Errorf("55 %s %v fired=%v, want %v", tc.op, tc.value, res.Fired, tc.want)
		}
	}
}

func TestEvaluateMissingSensorIsFalse(t *testing.T) {
	cr := compile(t, &domain.PlanRule{
		Name:       "missing",
		Conditions: &domain.ConditionGroup{All: []*domain.Condition{comparison("ghost", domain.OpGreater, 0)}},
		Actions:    []*domain.Action{setValue("out", 1)},
	})
	res := cr.Evaluate(snapshot(nil), buffer.NewSet(10))
	if res.Err != nil || res.Fired {
		t.Errorf("absent sensor must evaluate false without error, got fired=%v err=%v", res.Fired, res.Err)
	}
}

func TestEvaluateExpressionMissingSensorShortCircuits(t *testing.T) {
	cr := compile(t, &domain.PlanRule{
		Name:       "expr",
		Conditions: &domain.ConditionGroup{All: []*domain.Condition{expression(t, "ghost + 1 > 0")}},
		Actions:    []*domain.Action{setValue("out", 1)},
	})
	res := cr.Evaluate(snapshot(map[string]float64{"other": 1}), buffer.NewSet(10))
	if res.Err != nil || res.Fired {
		t.Errorf("expression with absent sensor must be false, got fired=%v err=%v", res.Fired, res.Err)
	}
}

func TestEvaluateAllAnySemantics(t *testing.T) {
	group := &domain.ConditionGroup{
		All: []*domain.Condition{comparison("a", domain.OpGreater, 0)},
		Any: []*domain.Condition{
			comparison("b", domain.OpGreater, 100),
			comparison("c", domain.OpGreater, 0),
		},
	}
	cr := compile(t, &domain.PlanRule{Name: "grp", Conditions: group, Actions: []*domain.Action{setValue("out", 1)}})

	res := cr.Evaluate(snapshot(map[string]float64{"a": 1, "b": 1, "c": 1}), buffer.NewSet(10))
	if !res.Fired {
		t.Error("all satisfied and one any satisfied: expected fire")
	}

	res = cr.Evaluate(snapshot(map[string]float64{"a": 1, "b": 1, "c": -1}), buffer.NewSet(10))
	if res.Fired {
		t.Error("no any satisfied: expected no fire")
	}

	res = cr.Evaluate(snapshot(map[string]float64{"a": -1, "b": 200, "c": 1}), buffer.NewSet(10))
	if res.Fired {
		t.Error("all not satisfied: expected no fire")
	}
}

func TestEvaluateNestedGroup(t *testing.T) {
	group := &domain.ConditionGroup{
		All: []*domain.Condition{
			{
				Kind: domain.ConditionGroupKind,
				Group: &domain.ConditionGroup{
					Any: []*domain.Condition{
						comparison("x", domain.OpGreater, 10),
						comparison("y", domain.OpGreater, 10),
					},
				},
			},
		},
	}
	cr := compile(t, &domain.PlanRule{Name: "nested", Conditions: group, Actions: []*domain.Action{setValue("out", 1)}})
	res := cr.Evaluate(snapshot(map[string]float64{"x": 0, "y": 20}), buffer.NewSet(10))
	if !res.Fired {
		t.Error("nested any should satisfy outer all")
	}
}

func TestEvaluateThresholdUsesBuffers(t *testing.T) {
	cond := &domain.Condition{
		Kind:      domain.ConditionThresholdOverTime,
		Threshold: &domain.ThresholdCondition{Sensor: "temperature", Threshold: 50, DurationMs: 500},
	}
	cr := compile(t, &domain.PlanRule{
		Name:       "thr",
		Conditions: &domain.ConditionGroup{All: []*domain.Condition{cond}},
		Actions:    []*domain.Action{setValue("alert", 1)},
	})

	buffers := buffer.NewSet(10)
	snap := snapshot(map[string]float64{"temperature": 55})

	// empty buffer: no samples in window
	if res := cr.Evaluate(snap, buffers); res.Fired {
		t.Error("empty buffer must not fire")
	}

	buffers.Ring("temperature").Add(0, 55)
	buffers.Ring("temperature").Add(100, 55)
	if res := cr.Evaluate(snap, buffers); !res.Fired {
		t.Error("samples above threshold must fire")
	}

	buffers.Ring("temperature").Add(200, 49)
	if res := cr.Evaluate(snap, buffers); res.Fired {
		t.Error("low sample in window must not fire")
	}
}

func TestEvaluateValueExpression(t *testing.T) {
	a := expr.Analyze("(temperature - 32) * (5.0/9.0)")
	if !a.Valid() {
		t.Fatalf("analyze: %v", a.Errors)
	}
	cr := compile(t, &domain.PlanRule{
		Name:       "convert",
		Conditions: &domain.ConditionGroup{All: []*domain.Condition{comparison("temperature", domain.OpGreater, 0)}},
		Actions: []*domain.Action{{
			Kind: domain.ActionSetValue,
			SetValue: &domain.SetValueAction{
				Key:             "converted",
				ValueExpression: "(temperature - 32) * (5.0/9.0)",
				Canonical:       a.Canonical,
				Sensors:         a.ReferencedSensors,
			},
		}},
	})
	res := cr.Evaluate(snapshot(map[string]float64{"temperature": 100}), buffer.NewSet(10))
	if res.Err != nil || !res.Fired || len(res.Writes) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	got := res.Writes[0].Value.Num
	want := (100.0 - 32.0) * (5.0 / 9.0)
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("converted = %v, want %v", got, want)
	}
}

func TestEvaluateValueExpressionErrorDiscardsWrites(t *testing.T) {
	cr := compile(t, &domain.PlanRule{
		Name:       "broken",
		Conditions: &domain.ConditionGroup{All: []*domain.Condition{comparison("a", domain.OpGreater, 0)}},
		Actions: []*domain.Action{
			setValue("first", 1),
			{
				Kind: domain.ActionSetValue,
				SetValue: &domain.SetValueAction{
					Key:             "second",
					ValueExpression: "ghost + 1",
					Canonical:       `s["ghost"] + 1.0`,
					Sensors:         []string{"ghost"},
				},
			},
		},
	})
	res := cr.Evaluate(snapshot(map[string]float64{"a": 1}), buffer.NewSet(10))
	if res.Err == nil {
		t.Fatal("expected evaluation error")
	}
	if len(res.Writes) != 0 {
		t.Errorf("failed rule must not keep partial writes, got %v", res.Writes)
	}
}

func TestEvaluateSendMessage(t *testing.T) {
	cr := compile(t, &domain.PlanRule{
		Name:       "msg",
		Conditions: &domain.ConditionGroup{All: []*domain.Condition{comparison("a", domain.OpGreater, 0)}},
		Actions: []*domain.Action{{
			Kind:        domain.ActionSendMessage,
			SendMessage: &domain.SendMessageAction{Channel: "alerts", Message: "fire"},
		}},
	})
	res := cr.Evaluate(snapshot(map[string]float64{"a": 1}), buffer.NewSet(10))
	if !res.Fired || len(res.Messages) != 1 || res.Messages[0].Channel != "alerts" {
		t.Errorf("unexpected result: %+v", res)
	}
}
