package domain

// Manifest is the machine-readable summary of a compiled plan, the ground
// truth for tooling and tests.
type Manifest struct {
	SchemaVersion int    `json:"schema_version"`
	GeneratedAt   string `json:"generated_at_utc"`
	TotalRules    int    `json:"total_rules"`
	LayerCount    int    `json:"layer_count"`

	Rules []*ManifestRule `json:"rules"`
}

// ManifestRule describes one compiled rule.
type ManifestRule struct {
	Name          string   `json:"name"`
	SourceFile    string   `json:"source_file"`
	SourceLine    int      `json:"source_line"`
	Layer         int      `json:"layer"`
	Description   string   `json:"description,omitempty"`
	Dependencies  []string `json:"dependencies"`
	InputSensors  []string `json:"input_sensors"`
	OutputSensors []string `json:"output_sensors"`
	UsesTemporal  bool     `json:"uses_temporal"`
}

// Rule returns the manifest entry for name, or nil.
func (m *Manifest) Rule(name string) *ManifestRule {
	for _, r := range m.Rules {
		if r.Name == name {
			return r
		}
	}
	return nil
}
