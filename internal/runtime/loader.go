package runtime

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/pulsar-rules/pulsar/internal/domain"
	"github.com/pulsar-rules/pulsar/internal/expr"
	"github.com/pulsar-rules/pulsar/internal/planner"
)

// Program is a loaded, compiled execution plan ready to run.
type Program struct {
	Plan   *domain.ExecutionPlan
	Groups [][]*CompiledRule

	env *cel.Env
}

// Load reads the emitted plan from dir and compiles every rule.
func Load(dir string) (*Program, error) {
	plan, err := planner.LoadPlan(dir)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	return Compile(plan)
}

// Compile lowers an in-memory plan into an executable program.
func Compile(plan *domain.ExecutionPlan) (*Program, error) {
	if plan.SchemaVersion != domain.PlanSchemaVersion {
		return nil, fmt.Errorf("plan schema version %d is not supported (want %d)",
			plan.SchemaVersion, domain.PlanSchemaVersion)
	}
	env, err := expr.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("create expression environment: %w", err)
	}

	p := &Program{Plan: plan, env: env}
	for _, g := range plan.Groups {
		var compiled []*CompiledRule
		for _, pr := range g.Rules {
			cr, err := CompileRule(env, pr)
			if err != nil {
				return nil, err
			}
			compiled = append(compiled, cr)
		}
		p.Groups = append(p.Groups, compiled)
	}
	return p, nil
}
