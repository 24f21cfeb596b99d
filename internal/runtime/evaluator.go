// Package runtime executes a compiled plan on a fixed cadence against a
// sensor store: read snapshot, evaluate groups in order, flush outputs.
package runtime

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/pulsar-rules/pulsar/internal/buffer"
	"github.com/pulsar-rules/pulsar/internal/domain"
	"github.com/pulsar-rules/pulsar/internal/expr"
)

// Snapshot is the working view of the store during one cycle. Writes by
// earlier groups are folded in before later groups evaluate.
type Snapshot struct {
	values  map[string]domain.Value
	numeric map[string]float64
}

// NewSnapshot builds a snapshot from a store read.
func NewSnapshot(values map[string]domain.Value) *Snapshot {
	s := &Snapshot{
		values:  make(map[string]domain.Value, len(values)),
		numeric: make(map[string]float64, len(values)),
	}
	for k, v := range values {
		s.set(k, v)
	}
	return s
}

func (s *Snapshot) set(key string, v domain.Value) {
	s.values[key] = v
	if v.Numeric {
		s.numeric[key] = v.Num
	} else {
		delete(s.numeric, key)
	}
}

// Num returns the numeric value of a sensor; ok is false when the sensor is
// absent or non-numeric.
func (s *Snapshot) Num(key string) (float64, bool) {
	v, ok := s.numeric[key]
	return v, ok
}

// Has reports whether every named sensor is present with a numeric value.
func (s *Snapshot) Has(keys []string) bool {
	for _, k := range keys {
		if _, ok := s.numeric[k]; !ok {
			return false
		}
	}
	return true
}

// Write is one pending store mutation in emission order.
type Write struct {
	Key   string
	Value domain.Value
}

// Message is one pending send_message publication.
type Message struct {
	Channel string
	Payload string
}

// RuleResult is the outcome of evaluating a single rule in a cycle.
type RuleResult struct {
	Rule     *CompiledRule
	Fired    bool
	Writes   []Write
	Messages []Message
	Err      error
}

// CompiledRule is a plan rule with its expressions lowered to CEL programs.
type CompiledRule struct {
	Plan       *domain.PlanRule
	conditions *compiledGroup
	actions    []*compiledAction
}

type compiledGroup struct {
	all []*compiledCondition
	any []*compiledCondition
}

type compiledCondition struct {
	kind       domain.ConditionKind
	comparison *domain.ComparisonCondition
	threshold  *domain.ThresholdCondition
	group      *compiledGroup

	exprProgram cel.Program
	exprSensors []string
}

type compiledAction struct {
	kind        domain.ActionKind
	setValue    *domain.SetValueAction
	sendMessage *domain.SendMessageAction

	valueProgram cel.Program
	valueSensors []string
}

// CompileRule lowers one plan rule against the shared CEL environment.
func CompileRule(env *cel.Env, pr *domain.PlanRule) (*CompiledRule, error) {
	grp, err := compileGroup(env, pr.Conditions)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", pr.Name, err)
	}
	cr := &CompiledRule{Plan: pr, conditions: grp}
	for _, a := range pr.Actions {
		ca := &compiledAction{kind: a.Kind, setValue: a.SetValue, sendMessage: a.SendMessage}
		if a.Kind == domain.ActionSetValue && a.SetValue.ValueExpression != "" {
			canonical := a.SetValue.Canonical
			if canonical == "" {
				an := expr.Analyze(a.SetValue.ValueExpression)
				if !an.Valid() {
					return nil, fmt.Errorf("rule %s: value expression %q: %v", pr.Name, a.SetValue.ValueExpression, an.Errors)
				}
				canonical = an.Canonical
				a.SetValue.Sensors = an.ReferencedSensors
			}
			prog, err := expr.Compile(env, canonical)
			if err != nil {
				return nil, fmt.Errorf("rule %s: value expression: %w", pr.Name, err)
			}
			ca.valueProgram = prog
			ca.valueSensors = a.SetValue.Sensors
		}
		cr.actions = append(cr.actions, ca)
	}
	return cr, nil
}

func compileGroup(env *cel.Env, g *domain.ConditionGroup) (*compiledGroup, error) {
	if g == nil {
		return &compiledGroup{}, nil
	}
	out := &compiledGroup{}
	for _, c := range g.All {
		cc, err := compileCondition(env, c)
		if err != nil {
			return nil, err
		}
		out.all = append(out.all, cc)
	}
	for _, c := range g.Any {
		cc, err := compileCondition(env, c)
		if err != nil {
			return nil, err
		}
		out.any = append(out.any, cc)
	}
	return out, nil
}

func compileCondition(env *cel.Env, c *domain.Condition) (*compiledCondition, error) {
	cc := &compiledCondition{kind: c.Kind}
	switch c.Kind {
	case domain.ConditionComparison:
		cc.comparison = c.Comparison
	case domain.ConditionThresholdOverTime:
		cc.threshold = c.Threshold
	case domain.ConditionExpression:
		canonical := c.Expression.Canonical
		if canonical == "" {
			// plans emitted by this compiler always carry the lowering, but
			// recover from hand-edited plans
			a := expr.AnalyzeBoolean(c.Expression.Expression)
			if !a.Valid() {
				return nil, fmt.Errorf("expression %q: %v", c.Expression.Expression, a.Errors)
			}
			canonical = a.Canonical
			c.Expression.Sensors = a.ReferencedSensors
		}
		prog, err := expr.Compile(env, canonical)
		if err != nil {
			return nil, fmt.Errorf("expression %q: %w", c.Expression.Expression, err)
		}
		cc.exprProgram = prog
		cc.exprSensors = c.Expression.Sensors
	case domain.ConditionGroupKind:
		grp, err := compileGroup(env, c.Group)
		if err != nil {
			return nil, err
		}
		cc.group = grp
	default:
		return nil, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return cc, nil
}

// Evaluate runs the rule against the snapshot and buffers. Condition errors
// resolve the rule to not-fired and are reported in Err.
func (r *CompiledRule) Evaluate(snap *Snapshot, buffers *buffer.Set) *RuleResult {
	res := &RuleResult{Rule: r}

	fired, err := evalGroup(r.conditions, snap, buffers)
	if err != nil {
		res.Err = err
		return res
	}
	if !fired {
		return res
	}
	res.Fired = true

	for _, a := range r.actions {
		switch a.kind {
		case domain.ActionSetValue:
			var val float64
			switch {
			case a.valueProgram != nil:
				if !snap.Has(a.valueSensors) {
					res.Err = fmt.Errorf("value expression for %s: referenced sensor absent", a.setValue.Key)
					res.Writes = nil
					return res
				}
				v, err := expr.EvalNumber(a.valueProgram, snap.numeric)
				if err != nil {
					res.Err = fmt.Errorf("value expression for %s: %w", a.setValue.Key, err)
					res.Writes = nil
					return res
				}
				val = v
			case a.setValue.Value != nil:
				val = *a.setValue.Value
			}
			res.Writes = append(res.Writes, Write{Key: a.setValue.Key, Value: domain.NumValue(val)})

		case domain.ActionSendMessage:
			res.Messages = append(res.Messages, Message{
				Channel: a.sendMessage.Channel,
				Payload: a.sendMessage.Message,
			})
		}
	}
	return res
}

// evalGroup applies the all/any semantics with short-circuiting: all stops on
// the first false, any on the first true.
func evalGroup(g *compiledGroup, snap *Snapshot, buffers *buffer.Set) (bool, error) {
	for _, c := range g.all {
		ok, err := evalCondition(c, snap, buffers)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	if len(g.any) == 0 {
		return true, nil
	}
	for _, c := range g.any {
		ok, err := evalCondition(c, snap, buffers)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func evalCondition(c *compiledCondition, snap *Snapshot, buffers *buffer.Set) (bool, error) {
	switch c.kind {
	case domain.ConditionComparison:
		v, ok := snap.Num(c.comparison.Sensor)
		if !ok {
			return false, nil
		}
		return c.comparison.Operator.Apply(v, c.comparison.Value), nil

	case domain.ConditionThresholdOverTime:
		ring, ok := buffers.Peek(c.threshold.Sensor)
		if !ok {
			return false, nil
		}
		return ring.ThresholdMaintained(c.threshold.Threshold, c.threshold.DurationMs), nil

	case domain.ConditionExpression:
		// absent sensors short-circuit the expression to false
		if !snap.Has(c.exprSensors) {
			return false, nil
		}
		ok, err := expr.EvalBool(c.exprProgram, snap.numeric)
		if err != nil {
			return false, err
		}
		return ok, nil

	case domain.ConditionGroupKind:
		return evalGroup(c.group, snap, buffers)
	}
	return false, nil
}
