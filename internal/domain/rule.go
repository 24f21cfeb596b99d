package domain

// RuleSet is the parsed form of a rules document.
type RuleSet struct {
	SchemaVersion int     `json:"schema_version"`
	Rules         []*Rule `json:"rules"`
}

// Rule is a named conditional write unit.
type Rule struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Conditions  *ConditionGroup `json:"conditions"`
	Actions     []*Action       `json:"actions"`

	// Provenance for diagnostics.
	SourceFile string `json:"source_file"`
	SourceLine int    `json:"source_line"`
}

// RuleNames returns the rule names in document order.
func (rs *RuleSet) RuleNames() []string {
	names := make([]string, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		names = append(names, r.Name)
	}
	return names
}
