package analyzer

import (
	"errors"
	"strings"
	"testing"

	"github.com/pulsar-rules/pulsar/internal/domain"
)

func f(v float64) *float64 { return &v }

// rule builds a comparison-driven rule reading `reads` and writing `writes`.
func rule(name string, line int, reads []string, writes []string) *domain.Rule {
	r := &domain.Rule{Name: name, SourceFile: "rules.yaml", SourceLine: line}
	g := &domain.ConditionGroup{}
	for _, s := range reads {
		g.All = append(g.All, &domain.Condition{
			Kind:       domain.ConditionComparison,
			Comparison: &domain.ComparisonCondition{Sensor: s, Operator: domain.OpGreater, Value: 0},
		})
	}
	r.Conditions = g
	for _, s := range writes {
		r.Actions = append(r.Actions, &domain.Action{
			Kind:     domain.ActionSetValue,
			SetValue: &domain.SetValueAction{Key: s, Value: f(1)},
		})
	}
	return r
}

func analyze(t *testing.T, rules ...*domain.Rule) *domain.LayeredPlan {
	t.Helper()
	lp, err := Analyze(&domain.RuleSet{SchemaVersion: 1, Rules: rules}, domain.DefaultCompileOptions())
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	return lp
}

func TestLayeringChainedRules(t *testing.T) {
	r1 := rule("R1", 1, []string{"humidity"}, []string{"dry_flag"})
	r2 := rule("R2", 10, []string{"dry_flag"}, []string{"warn"})
	lp := analyze(t, r2, r1) // document order must not matter

	if len(lp.Layers) != 2 {
		t.Fatalf("expected 2 layers, got %d", len(lp.Layers))
	}
	if lp.Layers[0][0].Name != "R1" || lp.Layers[1][0].Name != "R2" {
		t.Errorf("unexpected layering: %v / %v", lp.Layers[0][0].Name, lp.Layers[1][0].Name)
	}
	if lp.Meta["R2"].Layer != 1 {
		t.Errorf("R2 layer = %d", lp.Meta["R2"].Layer)
	}
	deps := lp.Meta["R2"].Dependencies
	if len(deps) != 1 || deps[0] != "R1" {
		t.Errorf("R2 dependencies = %v", deps)
	}
	if len(lp.Meta["R1"].Dependencies) != 0 {
		t.Errorf("R1 must have no dependencies")
	}
}

func TestLayerZeroIffNoProducers(t *testing.T) {
	a := rule("A", 1, []string{"x"}, []string{"y"})
	b := rule("B", 2, []string{"y"}, []string{"z"})
	c := rule("C", 3, []string{"q"}, []string{"p"})
	lp := analyze(t, a, b, c)

	for name, meta := range lp.Meta {
		hasProducers := len(meta.Dependencies) > 0
		if (meta.Layer == 0) == hasProducers {
			t.Errorf("rule %s: layer %d with producers=%v", name, meta.Layer, hasProducers)
		}
	}
}

func TestCycleRejection(t *testing.T) {
	r1 := rule("R1", 1, []string{"b"}, []string{"a"})
	r2 := rule("R2", 2, []string{"a"}, []string{"b"})
	_, err := Analyze(&domain.RuleSet{SchemaVersion: 1, Rules: []*domain.Rule{r1, r2}}, domain.DefaultCompileOptions())
	if err == nil {
		t.Fatal("expected dependency error")
	}
	var depErr *domain.DependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("expected DependencyError, got %T", err)
	}
	if len(depErr.Cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %v", depErr.Cycles)
	}
	joined := strings.Join(depErr.Cycles[0], " -> ")
	if joined != "R1 -> R2 -> R1" && joined != "R2 -> R1 -> R2" {
		t.Errorf("unexpected cycle %q", joined)
	}
}

func TestSelfReadIsNotACycle(t *testing.T) {
	// a rule may read a sensor it also writes
	r := rule("R", 1, []string{"counter"}, []string{"counter"})
	lp := analyze(t, r)
	if lp.Meta["R"].Layer != 0 {
		t.Errorf("self-reading rule must stay in layer 0")
	}
}

func TestDuplicateProducerWarns(t *testing.T) {
	r1 := rule("R1", 1, []string{"in"}, []string{"out"})
	r2 := rule("R2", 2, []string{"in"}, []string{"out"})
	lp := analyze(t, r1, r2)

	found := false
	for _, w := range lp.Warnings {
		if w.Code == domain.CodeDuplicateProducer {
			found = true
		}
	}
	if !found {
		t.Errorf("expected DuplicateProducer warning, got %v", lp.Warnings)
	}
}

func TestDeepChainWarns(t *testing.T) {
	var rules []*domain.Rule
	prev := "s0"
	for i := 0; i < 12; i++ {
		next := "s" + string(rune('a'+i))
		rules = append(rules, rule("R"+string(rune('a'+i)), i+1, []string{prev}, []string{next}))
		prev = next
	}
	opts := domain.DefaultCompileOptions()
	opts.MaxChainDepth = 10
	lp, err := Analyze(&domain.RuleSet{SchemaVersion: 1, Rules: rules}, opts)
	if err != nil {
		t.Fatalf("deep chains must not fail: %v", err)
	}
	found := 0
	for _, w := range lp.Warnings {
		if w.Code == domain.CodeDeepDependencyChain {
			found++
		}
	}
	if found == 0 {
		t.Error("expected DeepDependencyChain warnings")
	}
}

func TestTieBreakIsDeterministic(t *testing.T) {
	a := rule("zeta", 5, []string{"x"}, nil)
	b := rule("alpha", 5, []string{"x"}, nil)
	c := rule("mid", 2, []string{"x"}, nil)
	a.Actions = rule("w", 1, nil, []string{"o1"}).Actions
	b.Actions = rule("w", 1, nil, []string{"o2"}).Actions
	c.Actions = rule("w", 1, nil, []string{"o3"}).Actions

	lp := analyze(t, a, b, c)
	layer := lp.Layers[0]
	if layer[0].Name != "mid" || layer[1].Name != "alpha" || layer[2].Name != "zeta" {
		t.Errorf("tie-break order wrong: %s, %s, %s", layer[0].Name, layer[1].Name, layer[2].Name)
	}
}

func TestTransitiveProducers(t *testing.T) {
	a := rule("A", 1, []string{"raw"}, []string{"x"})
	b := rule("B", 2, []string{"x"}, []string{"y"})
	c := rule("C", 3, []string{"y"}, []string{"z"})
	lp := analyze(t, a, b, c)

	got := lp.Meta["C"].TransitiveProducers
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("transitive producers of C = %v", got)
	}
}

func TestValueExpressionSensorsAreInputsNotEdges(t *testing.T) {
	// B's value expression reads "late", produced by C; that must widen B's
	// input set but not create a dependency edge
	b := rule("B", 1, []string{"in"}, nil)
	b.Actions = []*domain.Action{{
		Kind:     domain.ActionSetValue,
		SetValue: &domain.SetValueAction{Key: "out", ValueExpression: "late + 1", Sensors: []string{"late"}},
	}}
	c := rule("C", 2, []string{"in"}, []string{"late"})
	lp := analyze(t, b, c)

	if lp.Meta["B"].Layer != 0 {
		t.Errorf("value expressions must not create edges; B layer = %d", lp.Meta["B"].Layer)
	}
	inputs := lp.Meta["B"].InputSensors
	found := false
	for _, s := range inputs {
		if s == "late" {
			found = true
		}
	}
	if !found {
		t.Errorf("value expression sensor missing from inputs: %v", inputs)
	}
}

func TestEmptyRuleSet(t *testing.T) {
	lp := analyze(t)
	if len(lp.Layers) != 0 {
		t.Errorf("expected 0 layers, got %d", len(lp.Layers))
	}
}
