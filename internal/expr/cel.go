package expr

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// SensorsVar is the CEL activation variable holding the sensor snapshot.
const SensorsVar = "s"

// NewEnv builds the CEL environment for lowered rule expressions: a single
// map variable for the sensor snapshot plus the allow-listed math functions.
func NewEnv() (*cel.Env, error) {
	opts := []cel.EnvOption{
		cel.Variable(SensorsVar, cel.MapType(cel.StringType, cel.DoubleType)),
	}
	opts = append(opts, unaryFn("abs", math.Abs))
	opts = append(opts, unaryFn("round", math.Round))
	opts = append(opts, unaryFn("floor", math.Floor))
	opts = append(opts, unaryFn("ceiling", math.Ceil))
	opts = append(opts, unaryFn("sqrt", math.Sqrt))
	opts = append(opts, unaryFn("sin", math.Sin))
	opts = append(opts, unaryFn("cos", math.Cos))
	opts = append(opts, unaryFn("tan", math.Tan))
	opts = append(opts, unaryFn("log", math.Log))
	opts = append(opts, unaryFn("exp", math.Exp))
	opts = append(opts, binaryFn("min", math.Min))
	opts = append(opts, binaryFn("max", math.Max))
	opts = append(opts, binaryFn("pow", math.Pow))

	return cel.NewEnv(opts...)
}

func unaryFn(name string, fn func(float64) float64) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
			cel.UnaryBinding(func(arg ref.Val) ref.Val {
				d, ok := arg.(types.Double)
				if !ok {
					return types.NewErr("%s: expected double", name)
				}
				return types.Double(fn(float64(d)))
			}),
		),
	)
}

func binaryFn(name string, fn func(float64, float64) float64) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_double_double", []*cel.Type{cel.DoubleType, cel.DoubleType}, cel.DoubleType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				a, ok1 := lhs.(types.Double)
				b, ok2 := rhs.(types.Double)
				if !ok1 || !ok2 {
					return types.NewErr("%s: expected doubles", name)
				}
				return types.Double(fn(float64(a), float64(b)))
			}),
		),
	)
}

// Compile compiles a canonical expression produced by Analyze.
func Compile(env *cel.Env, canonical string) (cel.Program, error) {
	ast, issues := env.Compile(canonical)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	out := ast.OutputType()
	if out != cel.BoolType && out != cel.DoubleType {
		return nil, fmt.Errorf("expression must yield bool or double, got %s", out)
	}
	return env.Program(ast)
}

// EvalBool runs a boolean program against a sensor snapshot. NaN anywhere in
// the comparison makes the condition false rather than an error; the CEL
// runtime reports NaN ordering as an evaluation error, which is unwrapped
// here.
func EvalBool(prog cel.Program, sensors map[string]float64) (bool, error) {
	out, _, err := prog.Eval(map[string]any{SensorsVar: sensors})
	if err != nil {
		if strings.Contains(err.Error(), "NaN") {
			return false, nil
		}
		return false, err
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expression yielded %s, want bool", out.Type().TypeName())
	}
	return bool(b), nil
}

// EvalNumber runs a numeric program against a sensor snapshot.
func EvalNumber(prog cel.Program, sensors map[string]float64) (float64, error) {
	out, _, err := prog.Eval(map[string]any{SensorsVar: sensors})
	if err != nil {
		return 0, err
	}
	switch v := out.(type) {
	case types.Double:
		return float64(v), nil
	case types.Bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expression yielded %s, want double", out.Type().TypeName())
	}
}
