package domain

// ConditionKind discriminates the condition variants.
type ConditionKind string

const (
	ConditionComparison        ConditionKind = "comparison"
	ConditionExpression        ConditionKind = "expression"
	ConditionThresholdOverTime ConditionKind = "threshold_over_time"
	ConditionGroupKind         ConditionKind = "group"
)

// CompareOp is a comparison operator in its canonical spelling.
type CompareOp string

const (
	OpLess         CompareOp = "<"
	OpLessEqual    CompareOp = "<="
	OpGreater      CompareOp = ">"
	OpGreaterEqual CompareOp = ">="
	OpEqual        CompareOp = "=="
	OpNotEqual     CompareOp = "!="
)

// ValidCompareOps is the permitted operator set keyed by accepted spellings.
var ValidCompareOps = map[string]CompareOp{
	"<": OpLess, "<=": OpLessEqual, "≤": OpLessEqual,
	">": OpGreater, ">=": OpGreaterEqual, "≥": OpGreaterEqual,
	"=": OpEqual, "==": OpEqual,
	"!=": OpNotEqual, "≠": OpNotEqual, "<>": OpNotEqual,
}

// Apply evaluates the operator against two doubles. NaN on either side
// compares false for every operator, including !=.
func (op CompareOp) Apply(a, b float64) bool {
	if a != a || b != b {
		return false
	}
	switch op {
	case OpLess:
		return a < b
	case OpLessEqual:
		return a <= b
	case OpGreater:
		return a > b
	case OpGreaterEqual:
		return a >= b
	case OpEqual:
		return a == b
	case OpNotEqual:
		return a != b
	}
	return false
}

// ConditionGroup combines conditions: every member of All must hold, and,
// when Any is non-empty, at least one member of Any must hold.
type ConditionGroup struct {
	All []*Condition `json:"all,omitempty"`
	Any []*Condition `json:"any,omitempty"`

	SourceLine int `json:"source_line,omitempty"`
}

// Empty reports whether the group has no conditions at all.
func (g *ConditionGroup) Empty() bool {
	return g == nil || (len(g.All) == 0 && len(g.Any) == 0)
}

// Condition is a closed sum over the condition variants; exactly one of the
// payload fields matching Kind is set.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	Comparison *ComparisonCondition `json:"comparison,omitempty"`
	Expression *ExpressionCondition `json:"expression,omitempty"`
	Threshold  *ThresholdCondition  `json:"threshold,omitempty"`
	Group      *ConditionGroup      `json:"group,omitempty"`

	SourceLine int `json:"source_line,omitempty"`
}

// ComparisonCondition compares the current value of a sensor to a literal.
type ComparisonCondition struct {
	Sensor   string    `json:"sensor"`
	Operator CompareOp `json:"operator"`
	Value    float64   `json:"value"`
}

// ExpressionCondition is a limited arithmetic expression over sensors that
// yields a boolean. Canonical and Sensors are filled during validation and
// carried into the plan so the runtime never re-analyzes the raw text.
type ExpressionCondition struct {
	Expression string   `json:"expression"`
	Canonical  string   `json:"canonical,omitempty"`
	Sensors    []string `json:"sensors,omitempty"`
}

// ThresholdCondition holds iff every sample of Sensor within the trailing
// DurationMs window strictly exceeds Threshold and at least one sample exists.
type ThresholdCondition struct {
	Sensor     string  `json:"sensor"`
	Threshold  float64 `json:"threshold"`
	DurationMs int64   `json:"duration_ms"`
}
