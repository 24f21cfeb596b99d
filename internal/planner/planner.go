// Package planner turns a layered plan into the emitted execution artifact:
// rules split into size-capped groups in layer order, plus the manifest
// consumed by tooling and tests.
package planner

import (
	"sort"

	"github.com/pulsar-rules/pulsar/internal/domain"
)

// Generate produces the execution plan and manifest for a layered rule set.
// Output is fully deterministic for identical inputs and build time.
func Generate(lp *domain.LayeredPlan, cfg *domain.SystemConfig, opts domain.CompileOptions) (*domain.ExecutionPlan, *domain.Manifest) {
	maxRules := opts.MaxRulesPerGroup
	if maxRules <= 0 {
		maxRules = domain.DefaultMaxRulesPerGroup
	}
	maxLines := opts.MaxLinesPerGroup
	if maxLines <= 0 {
		maxLines = domain.DefaultMaxLinesPerGroup
	}

	plan := &domain.ExecutionPlan{
		SchemaVersion: domain.PlanSchemaVersion,
		GeneratedAt:   opts.BuildTime,
		LayerCount:    len(lp.Layers),
		Groups:        []*domain.PlanGroup{},
		Coordinator: domain.CoordinatorPlan{
			CycleTimeMs:        cfg.CycleTimeMs,
			BufferCapacity:     cfg.BufferCapacity,
			GroupParallelRules: opts.GroupParallelRules,
			GroupOrder:         []int{},
		},
	}

	manifest := &domain.Manifest{
		SchemaVersion: domain.PlanSchemaVersion,
		GeneratedAt:   opts.BuildTime,
		LayerCount:    len(lp.Layers),
		Rules:         []*domain.ManifestRule{},
	}

	inputs := map[string]struct{}{}
	temporal := map[string]struct{}{}

	var current *domain.PlanGroup
	currentLines := 0

	flush := func() {
		if current != nil && len(current.Rules) > 0 {
			plan.Groups = append(plan.Groups, current)
		}
		current = nil
		currentLines = 0
	}
	open := func(layer int) {
		current = &domain.PlanGroup{Index: len(plan.Groups), Layer: layer}
	}

	for layer, rules := range lp.Layers {
		if opts.GroupParallelRules {
			// groups never span layers in parallel mode
			flush()
		}
		for _, r := range rules {
			meta := lp.Meta[r.Name]
			lines := estimateLines(r)

			if current == nil {
				open(layer)
			} else if len(current.Rules) >= maxRules || (currentLines+lines > maxLines && len(current.Rules) > 0) {
				flush()
				open(layer)
			}
			if !opts.GroupParallelRules && current.Layer != layer {
				current.Layer = -1 // group spans layers
			}

			current.Rules = append(current.Rules, planRule(meta))
			currentLines += lines
			manifest.Rules = append(manifest.Rules, manifestRule(meta))

			for _, s := range meta.InputSensors {
				inputs[s] = struct{}{}
			}
			addTemporalSensors(r.Conditions, temporal)
		}
	}
	flush()

	for i := range plan.Groups {
		plan.Coordinator.GroupOrder = append(plan.Coordinator.GroupOrder, i)
	}
	plan.InputSensors = sortedSet(inputs)
	plan.TemporalSensors = sortedSet(temporal)
	manifest.TotalRules = len(manifest.Rules)

	return plan, manifest
}

func planRule(meta *domain.RuleMeta) *domain.PlanRule {
	return &domain.PlanRule{
		Name:          meta.Rule.Name,
		Layer:         meta.Layer,
		Conditions:    meta.Rule.Conditions,
		Actions:       meta.Rule.Actions,
		InputSensors:  meta.InputSensors,
		OutputSensors: meta.OutputSensors,
		UsesTemporal:  meta.UsesTemporal,
	}
}

func manifestRule(meta *domain.RuleMeta) *domain.ManifestRule {
	r := meta.Rule
	return &domain.ManifestRule{
		Name:          r.Name,
		SourceFile:    r.SourceFile,
		SourceLine:    r.SourceLine,
		Layer:         meta.Layer,
		Description:   r.Description,
		Dependencies:  emptyNotNil(meta.Dependencies),
		InputSensors:  emptyNotNil(meta.InputSensors),
		OutputSensors: emptyNotNil(meta.OutputSensors),
		UsesTemporal:  meta.UsesTemporal,
	}
}

// estimateLines approximates the emitted size of a rule for the
// max_lines_per_group cap: a fixed frame plus two lines per condition and
// action.
func estimateLines(r *domain.Rule) int {
	return 4 + 2*countConditions(r.Conditions) + 2*len(r.Actions)
}

func countConditions(g *domain.ConditionGroup) int {
	if g == nil {
		return 0
	}
	n := 0
	for _, c := range append(append([]*domain.Condition{}, g.All...), g.Any...) {
		if c.Kind == domain.ConditionGroupKind {
			n += countConditions(c.Group)
		} else {
			n++
		}
	}
	return n
}

func addTemporalSensors(g *domain.ConditionGroup, into map[string]struct{}) {
	if g == nil {
		return
	}
	for _, c := range append(append([]*domain.Condition{}, g.All...), g.Any...) {
		switch c.Kind {
		case domain.ConditionThresholdOverTime:
			into[c.Threshold.Sensor] = struct{}{}
		case domain.ConditionGroupKind:
			addTemporalSensors(c.Group, into)
		}
	}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func emptyNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
