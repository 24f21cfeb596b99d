// Package analyzer discovers inter-rule data flow through shared sensor
// keys, rejects cyclic rule sets, and assigns every rule to an execution
// layer. Rules are referenced by index internally; names only appear in the
// reported results.
package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pulsar-rules/pulsar/internal/domain"
)

// Analyze builds the producer graph over the validated rule set and returns
// the layered plan, or a DependencyError listing every cycle.
func Analyze(rs *domain.RuleSet, opts domain.CompileOptions) (*domain.LayeredPlan, error) {
	g := buildGraph(rs)

	if cycles := g.findCycles(); len(cycles) > 0 {
		return nil, &domain.DependencyError{Cycles: cycles}
	}

	layers := g.assignLayers()

	plan := &domain.LayeredPlan{
		Meta:     make(map[string]*domain.RuleMeta, len(rs.Rules)),
		Warnings: g.warnings,
	}

	maxLayer := -1
	for _, l := range layers {
		if l > maxLayer {
			maxLayer = l
		}
	}
	plan.Layers = make([][]*domain.Rule, maxLayer+1)
	for i, r := range rs.Rules {
		plan.Layers[layers[i]] = append(plan.Layers[layers[i]], r)
	}
	for _, layer := range plan.Layers {
		sortRules(layer)
	}

	maxDepth := opts.MaxChainDepth
	if maxDepth <= 0 {
		maxDepth = domain.DefaultMaxChainDepth
	}

	for i, r := range rs.Rules {
		meta := &domain.RuleMeta{
			Rule:          r,
			Layer:         layers[i],
			InputSensors:  sortedKeys(g.inputs[i]),
			OutputSensors: sortedKeys(g.outputs[i]),
			Dependencies:  g.producerNames(i),
			UsesTemporal:  g.temporal[i],
		}
		meta.TransitiveProducers = g.transitiveProducers(i)
		plan.Meta[r.Name] = meta

		if layers[i]+1 > maxDepth {
			plan.Warnings = append(plan.Warnings, domain.Diagnostic{
				Code: domain.CodeDeepDependencyChain,
				Rule: r.Name,
				File: r.SourceFile,
				Line: r.SourceLine,
				Detail: fmt.Sprintf("dependency chain of length %d exceeds max depth %d: %s",
					layers[i]+1, maxDepth, strings.Join(g.chainTo(i, layers), " -> ")),
			})
		}
	}

	return plan, nil
}

type graph struct {
	rules    []*domain.Rule
	inputs   []map[string]struct{} // condition and value-expression sensors per rule
	outputs  []map[string]struct{} // set_value keys per rule
	temporal []bool

	// producers maps a sensor to every rule index that writes it.
	producers map[string][]int

	// preds[i] holds the producer rule indices of rule i, deduplicated,
	// in ascending index order.
	preds [][]int
	succs [][]int

	warnings []domain.Diagnostic
}

func buildGraph(rs *domain.RuleSet) *graph {
	n := len(rs.Rules)
	g := &graph{
		rules:     rs.Rules,
		inputs:    make([]map[string]struct{}, n),
		outputs:   make([]map[string]struct{}, n),
		temporal:  make([]bool, n),
		producers: map[string][]int{},
		preds:     make([][]int, n),
		succs:     make([][]int, n),
	}

	for i, r := range rs.Rules {
		g.inputs[i] = map[string]struct{}{}
		g.outputs[i] = map[string]struct{}{}
		collectGroup(r.Conditions, g.inputs[i], &g.temporal[i])
		for _, a := range r.Actions {
			if a.Kind != domain.ActionSetValue {
				continue
			}
			g.outputs[i][a.SetValue.Key] = struct{}{}
			// value expressions read the snapshot too
			for _, s := range a.SetValue.Sensors {
				g.inputs[i][s] = struct{}{}
			}
		}
	}

	for i := range rs.Rules {
		for s := range g.outputs[i] {
			if prev := g.producers[s]; len(prev) > 0 {
				r := rs.Rules[i]
				g.warnings = append(g.warnings, domain.Diagnostic{
					Code: domain.CodeDuplicateProducer,
					Rule: r.Name,
					File: r.SourceFile,
					Line: r.SourceLine,
					Detail: fmt.Sprintf("sensor %q is also produced by rule %q; last writer in group order wins",
						s, rs.Rules[prev[0]].Name),
				})
			}
			g.producers[s] = append(g.producers[s], i)
		}
	}

	// edges run producer -> consumer; dependency edges come from condition
	// inputs only, so a rule reading its own output does not self-cycle
	for i := range rs.Rules {
		seen := map[int]struct{}{}
		for s := range condInputs(rs.Rules[i]) {
			for _, p := range g.producers[s] {
				if p == i {
					continue
				}
				if _, dup := seen[p]; dup {
					continue
				}
				seen[p] = struct{}{}
			}
		}
		g.preds[i] = sortedInts(seen)
		for _, p := range g.preds[i] {
			g.succs[p] = append(g.succs[p], i)
		}
	}

	return g
}

// condInputs returns only the sensors referenced by conditions; these define
// the dependency edges.
func condInputs(r *domain.Rule) map[string]struct{} {
	set := map[string]struct{}{}
	dummy := false
	collectGroup(r.Conditions, set, &dummy)
	return set
}

func collectGroup(g *domain.ConditionGroup, into map[string]struct{}, temporal *bool) {
	if g == nil {
		return
	}
	for _, c := range append(append([]*domain.Condition{}, g.All...), g.Any...) {
		switch c.Kind {
		case domain.ConditionComparison:
			into[c.Comparison.Sensor] = struct{}{}
		case domain.ConditionExpression:
			for _, s := range c.Expression.Sensors {
				into[s] = struct{}{}
			}
		case domain.ConditionThresholdOverTime:
			into[c.Threshold.Sensor] = struct{}{}
			*temporal = true
		case domain.ConditionGroupKind:
			collectGroup(c.Group, into, temporal)
		}
	}
}

// findCycles runs an iterative depth-first search with an explicit recursion
// stack; every back-edge yields the cycle from the re-entered node back to
// itself. Distinct cycles are deduplicated up to rotation.
func (g *graph) findCycles() [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	n := len(g.rules)
	color := make([]int, n)
	var cycles [][]string
	seenCycle := map[string]bool{}

	type frame struct {
		node int
		next int
	}

	for start := 0; start < n; start++ {
		if color[start] != white {
			continue
		}
		stack := []frame{{node: start}}
		path := []int{start}
		color[start] = gray

		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			if f.next < len(g.succs[f.node]) {
				next := g.succs[f.node][f.next]
				f.next++
				switch color[next] {
				case white:
					color[next] = gray
					stack = append(stack, frame{node: next})
					path = append(path, next)
				case gray:
					// back-edge: slice the cycle out of the current path
					idx := len(path) - 1
					for idx >= 0 && path[idx] != next {
						idx--
					}
					cyc := make([]string, 0, len(path)-idx+1)
					for _, r := range path[idx:] {
						cyc = append(cyc, g.rules[r].Name)
					}
					cyc = append(cyc, g.rules[next].Name)
					if key := cycleKey(cyc); !seenCycle[key] {
						seenCycle[key] = true
						cycles = append(cycles, cyc)
					}
				}
			} else {
				color[f.node] = black
				stack = stack[:len(stack)-1]
				path = path[:len(path)-1]
			}
		}
	}
	return cycles
}

// cycleKey normalizes a cycle up to rotation for deduplication.
func cycleKey(cyc []string) string {
	body := cyc[:len(cyc)-1] // drop the closing repeat
	min := 0
	for i := range body {
		if body[i] < body[min] {
			min = i
		}
	}
	rotated := append(append([]string{}, body[min:]...), body[:min]...)
	return strings.Join(rotated, "\x00")
}

// assignLayers computes layer(r) = 1 + max(layer(p)) over producers, or 0
// with none, via Kahn processing over the acyclic graph.
func (g *graph) assignLayers() []int {
	n := len(g.rules)
	layer := make([]int, n)
	indeg := make([]int, n)
	var queue []int
	for i := 0; i < n; i++ {
		indeg[i] = len(g.preds[i])
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range g.succs[node] {
			if layer[node]+1 > layer[next] {
				layer[next] = layer[node] + 1
			}
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return layer
}

// chainTo reconstructs one longest producer chain ending at rule i.
func (g *graph) chainTo(i int, layers []int) []string {
	chain := []string{g.rules[i].Name}
	node := i
	for layers[node] > 0 {
		best := -1
		for _, p := range g.preds[node] {
			if layers[p] == layers[node]-1 {
				best = p
				break
			}
		}
		if best < 0 {
			break
		}
		chain = append([]string{g.rules[best].Name}, chain...)
		node = best
	}
	return chain
}

func (g *graph) producerNames(i int) []string {
	names := make([]string, 0, len(g.preds[i]))
	for _, p := range g.preds[i] {
		names = append(names, g.rules[p].Name)
	}
	sort.Strings(names)
	return names
}

// transitiveProducers walks the upstream closure of rule i.
func (g *graph) transitiveProducers(i int) []string {
	seen := map[int]struct{}{}
	stack := append([]int{}, g.preds[i]...)
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[node]; ok {
			continue
		}
		seen[node] = struct{}{}
		stack = append(stack, g.preds[node]...)
	}
	names := make([]string, 0, len(seen))
	for node := range seen {
		names = append(names, g.rules[node].Name)
	}
	sort.Strings(names)
	return names
}

// sortRules orders a layer by (source_file, line_number, rule_name) so the
// emitted plan is deterministic.
func sortRules(rules []*domain.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.SourceFile != b.SourceFile {
			return a.SourceFile < b.SourceFile
		}
		if a.SourceLine != b.SourceLine {
			return a.SourceLine < b.SourceLine
		}
		return a.Name < b.Name
	})
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedInts(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
