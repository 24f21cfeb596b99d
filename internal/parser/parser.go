// Package parser deserializes the YAML rule DSL and system configuration
// into the typed AST, attaching source-line provenance for diagnostics.
package parser

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pulsar-rules/pulsar/internal/domain"
)

// Top-level keys the parser knows; anything else at the top level is
// reported as a warning and dropped (the AST does not keep it). Unknown keys
// inside condition and action blocks are rejected.
var (
	knownRuleSetKeys = map[string]struct{}{"schema_version": {}, "rules": {}}
	knownConfigKeys  = map[string]struct{}{
		"schema_version": {}, "valid_sensors": {},
		"cycle_time": {}, "cycle_time_ms": {},
		"buffer_capacity": {},
	}
	knownRuleKeys = map[string]struct{}{
		"name": {}, "description": {}, "conditions": {}, "actions": {},
	}
)

var yamlLinePattern = regexp.MustCompile(`line (\d+)`)

// ParseRuleSetFile reads and parses a rules document.
func ParseRuleSetFile(path string) (*domain.RuleSet, []domain.Diagnostic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return ParseRuleSet(data, path)
}

// ParseSystemConfigFile reads and parses a system configuration document.
func ParseSystemConfigFile(path string) (*domain.SystemConfig, []domain.Diagnostic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return ParseSystemConfig(data, path)
}

// ParseRuleSet parses a rules document from YAML text.
func ParseRuleSet(data []byte, path string) (*domain.RuleSet, []domain.Diagnostic, error) {
	root, err := parseDocument(data, path)
	if err != nil {
		return nil, nil, err
	}

	p := &docParser{path: path}
	rs := &domain.RuleSet{}

	for _, kv := range p.mapEntries(root, knownRuleSetKeys) {
		switch kv.key {
		case "schema_version":
			rs.SchemaVersion = p.intValue(kv.val, "schema_version")
		case "rules":
			if kv.val.Kind != yaml.SequenceNode {
				p.schemaErr(kv.val.Line, "rules must be a list")
				continue
			}
			for _, item := range kv.val.Content {
				if r := p.parseRule(item); r != nil {
					rs.Rules = append(rs.Rules, r)
				}
			}
		}
	}

	if rs.Rules == nil && p.err == nil {
		if n := findKey(root, "rules"); n == nil {
			p.schemaErr(root.Line, "missing required field rules")
		}
	}
	if p.err != nil {
		return nil, p.warnings, p.err
	}
	return rs, p.warnings, nil
}

// ParseSystemConfig parses a system configuration document from YAML text.
func ParseSystemConfig(data []byte, path string) (*domain.SystemConfig, []domain.Diagnostic, error) {
	root, err := parseDocument(data, path)
	if err != nil {
		return nil, nil, err
	}

	p := &docParser{path: path}
	cfg := &domain.SystemConfig{
		CycleTimeMs:    domain.DefaultCycleTimeMs,
		BufferCapacity: domain.DefaultBufferCapacity,
		SourceFile:     path,
	}

	for _, kv := range p.mapEntries(root, knownConfigKeys) {
		switch kv.key {
		case "schema_version":
			cfg.SchemaVersion = p.intValue(kv.val, "schema_version")
		case "valid_sensors":
			if kv.val.Kind != yaml.SequenceNode {
				p.schemaErr(kv.val.Line, "valid_sensors must be a list of strings")
				continue
			}
			for _, item := range kv.val.Content {
				cfg.ValidSensors = append(cfg.ValidSensors, item.Value)
			}
		case "cycle_time", "cycle_time_ms":
			cfg.CycleTimeMs = p.intValue(kv.val, kv.key)
		case "buffer_capacity":
			cfg.BufferCapacity = p.intValue(kv.val, kv.key)
		}
	}

	if findKey(root, "valid_sensors") == nil {
		p.schemaErr(root.Line, "missing required field valid_sensors")
	}
	if p.err != nil {
		return nil, p.warnings, p.err
	}
	return cfg, p.warnings, nil
}

// parseDocument unmarshals into a node tree and unwraps the document node.
func parseDocument(data []byte, path string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		line := 0
		if m := yamlLinePattern.FindStringSubmatch(err.Error()); m != nil {
			line, _ = strconv.Atoi(m[1])
		}
		return nil, &domain.ParseError{Path: path, Line: line, Detail: err.Error()}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &domain.SchemaError{Path: path, Line: 1, Detail: "empty document"}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &domain.SchemaError{Path: path, Line: root.Line, Detail: "top level must be a mapping"}
	}
	return root, nil
}

// docParser accumulates warnings and remembers the first schema error.
type docParser struct {
	path     string
	warnings []domain.Diagnostic
	err      error
}

type mapEntry struct {
	key string
	val *yaml.Node
}

// mapEntries walks a mapping node, warning (not failing) on keys outside
// known when known is non-nil.
func (p *docParser) mapEntries(node *yaml.Node, known map[string]struct{}) []mapEntry {
	entries := make([]mapEntry, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if known != nil {
			if _, ok := known[k.Value]; !ok {
				p.warnings = append(p.warnings, domain.Diagnostic{
					Code:   "UnknownField",
					Detail: fmt.Sprintf("unknown top-level field %q ignored", k.Value),
					File:   p.path,
					Line:   k.Line,
				})
				continue
			}
		}
		entries = append(entries, mapEntry{key: k.Value, val: v})
	}
	return entries
}

func (p *docParser) schemaErr(line int, format string, args ...any) {
	if p.err == nil {
		p.err = &domain.SchemaError{Path: p.path, Line: line, Detail: fmt.Sprintf(format, args...)}
	}
}

func (p *docParser) intValue(n *yaml.Node, field string) int {
	v, err := strconv.Atoi(n.Value)
	if err != nil {
		p.schemaErr(n.Line, "%s must be an integer, got %q", field, n.Value)
		return 0
	}
	return v
}

func (p *docParser) floatValue(n *yaml.Node, field string) float64 {
	v, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		p.schemaErr(n.Line, "%s must be a number, got %q", field, n.Value)
		return 0
	}
	return v
}

func (p *docParser) parseRule(node *yaml.Node) *domain.Rule {
	if node.Kind != yaml.MappingNode {
		p.schemaErr(node.Line, "rule must be a mapping")
		return nil
	}
	r := &domain.Rule{SourceFile: p.path, SourceLine: node.Line}
	seen := map[string]bool{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		seen[k.Value] = true
		switch k.Value {
		case "name":
			r.Name = v.Value
		case "description":
			r.Description = v.Value
		case "conditions":
			r.Conditions = p.parseConditionGroup(v)
		case "actions":
			if v.Kind != yaml.SequenceNode {
				p.schemaErr(v.Line, "actions must be a list")
				continue
			}
			for _, item := range v.Content {
				if a := p.parseAction(item); a != nil {
					r.Actions = append(r.Actions, a)
				}
			}
		default:
			if _, ok := knownRuleKeys[k.Value]; !ok {
				p.warnings = append(p.warnings, domain.Diagnostic{
					Code:   "UnknownField",
					Detail: fmt.Sprintf("unknown rule field %q ignored", k.Value),
					File:   p.path,
					Line:   k.Line,
				})
			}
		}
	}
	for _, req := range []string{"name", "conditions", "actions"} {
		if !seen[req] {
			p.schemaErr(node.Line, "rule missing required field %s", req)
		}
	}
	return r
}

// parseConditionGroup handles the recursive {all?, any?} form.
func (p *docParser) parseConditionGroup(node *yaml.Node) *domain.ConditionGroup {
	if node.Kind != yaml.MappingNode {
		p.schemaErr(node.Line, "conditions must be a mapping with all/any lists")
		return nil
	}
	g := &domain.ConditionGroup{SourceLine: node.Line}
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		switch k.Value {
		case "all", "any":
			if v.Kind != yaml.SequenceNode {
				p.schemaErr(v.Line, "%s must be a list", k.Value)
				continue
			}
			for _, item := range v.Content {
				c := p.parseConditionEntry(item)
				if c == nil {
					continue
				}
				if k.Value == "all" {
					g.All = append(g.All, c)
				} else {
					g.Any = append(g.Any, c)
				}
			}
		default:
			p.schemaErr(k.Line, "unknown field %q in condition group (want all or any)", k.Value)
		}
	}
	return g
}

// parseConditionEntry dispatches a list element: either a nested group or a
// condition: wrapper.
func (p *docParser) parseConditionEntry(node *yaml.Node) *domain.Condition {
	if node.Kind != yaml.MappingNode {
		p.schemaErr(node.Line, "condition entry must be a mapping")
		return nil
	}
	if hasKey(node, "all") || hasKey(node, "any") {
		grp := p.parseConditionGroup(node)
		if grp == nil {
			return nil
		}
		return &domain.Condition{Kind: domain.ConditionGroupKind, Group: grp, SourceLine: node.Line}
	}
	wrapped := findKey(node, "condition")
	if wrapped == nil {
		p.schemaErr(node.Line, "condition entry must be a condition: wrapper or a nested all/any group")
		return nil
	}
	if len(node.Content) > 2 {
		p.schemaErr(node.Line, "condition wrapper must not carry extra fields")
		return nil
	}
	return p.parseCondition(wrapped)
}

func (p *docParser) parseCondition(node *yaml.Node) *domain.Condition {
	if node.Kind != yaml.MappingNode {
		p.schemaErr(node.Line, "condition must be a mapping")
		return nil
	}
	typ := findKey(node, "type")
	if typ == nil {
		p.schemaErr(node.Line, "condition missing required field type")
		return nil
	}

	c := &domain.Condition{SourceLine: node.Line}
	switch typ.Value {
	case "comparison":
		cmp := &domain.ComparisonCondition{}
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			switch k.Value {
			case "type":
			case "sensor":
				cmp.Sensor = v.Value
			case "operator":
				if canonical, ok := domain.ValidCompareOps[v.Value]; ok {
					cmp.Operator = canonical
				} else {
					cmp.Operator = domain.CompareOp(v.Value)
				}
			case "value":
				cmp.Value = p.floatValue(v, "value")
			default:
				p.schemaErr(k.Line, "unknown field %q in comparison condition", k.Value)
				return nil
			}
		}
		c.Kind = domain.ConditionComparison
		c.Comparison = cmp

	case "expression":
		exp := &domain.ExpressionCondition{}
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			switch k.Value {
			case "type":
			case "expression":
				exp.Expression = strings.TrimSpace(v.Value)
			default:
				p.schemaErr(k.Line, "unknown field %q in expression condition", k.Value)
				return nil
			}
		}
		c.Kind = domain.ConditionExpression
		c.Expression = exp

	case "threshold_over_time":
		th := &domain.ThresholdCondition{}
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			switch k.Value {
			case "type":
			case "sensor":
				th.Sensor = v.Value
			case "threshold":
				th.Threshold = p.floatValue(v, "threshold")
			case "duration", "duration_ms":
				ms, err := ParseDurationMs(v.Value)
				if err != nil {
					p.schemaErr(v.Line, "%v", err)
					return nil
				}
				th.DurationMs = ms
			default:
				p.schemaErr(k.Line, "unknown field %q in threshold_over_time condition", k.Value)
				return nil
			}
		}
		c.Kind = domain.ConditionThresholdOverTime
		c.Threshold = th

	default:
		p.schemaErr(typ.Line, "unknown condition type %q", typ.Value)
		return nil
	}
	return c
}

func (p *docParser) parseAction(node *yaml.Node) *domain.Action {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		p.schemaErr(node.Line, "action must be a single-key mapping (set_value or send_message)")
		return nil
	}
	kind, body := node.Content[0], node.Content[1]
	a := &domain.Action{SourceLine: node.Line}

	switch kind.Value {
	case "set_value":
		sv := &domain.SetValueAction{}
		for i := 0; i+1 < len(body.Content); i += 2 {
			k, v := body.Content[i], body.Content[i+1]
			switch k.Value {
			case "key":
				sv.Key = v.Value
			case "value":
				f := p.floatValue(v, "value")
				sv.Value = &f
			case "value_expression":
				sv.ValueExpression = strings.TrimSpace(v.Value)
			default:
				p.schemaErr(k.Line, "unknown field %q in set_value action", k.Value)
				return nil
			}
		}
		a.Kind = domain.ActionSetValue
		a.SetValue = sv

	case "send_message":
		sm := &domain.SendMessageAction{}
		for i := 0; i+1 < len(body.Content); i += 2 {
			k, v := body.Content[i], body.Content[i+1]
			switch k.Value {
			case "channel":
				sm.Channel = v.Value
			case "message":
				sm.Message = v.Value
			default:
				p.schemaErr(k.Line, "unknown field %q in send_message action", k.Value)
				return nil
			}
		}
		a.Kind = domain.ActionSendMessage
		a.SendMessage = sm

	default:
		p.schemaErr(kind.Line, "unknown action type %q", kind.Value)
		return nil
	}
	return a
}

func findKey(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func hasKey(node *yaml.Node, key string) bool {
	return findKey(node, key) != nil
}
