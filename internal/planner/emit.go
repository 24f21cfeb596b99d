package planner

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pulsar-rules/pulsar/internal/domain"
)

// WriteArtifacts emits execution_plan.json and rules.manifest.json into dir.
// Encoding is stable: two-space indentation, struct-order keys, trailing
// newline, so identical inputs produce byte-identical files.
func WriteArtifacts(dir string, plan *domain.ExecutionPlan, manifest *domain.Manifest) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.PlanEmitError{Path: dir, Err: err}
	}
	if err := writeJSON(filepath.Join(dir, domain.PlanFileName), plan); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, domain.ManifestFileName), manifest)
}

func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return &domain.PlanEmitError{Path: path, Err: err}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return &domain.PlanEmitError{Path: path, Err: err}
	}
	return nil
}

// LoadPlan reads an emitted execution plan back from dir.
func LoadPlan(dir string) (*domain.ExecutionPlan, error) {
	var plan domain.ExecutionPlan
	if err := readJSON(filepath.Join(dir, domain.PlanFileName), &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// LoadManifest reads an emitted manifest back from dir.
func LoadManifest(dir string) (*domain.Manifest, error) {
	var m domain.Manifest
	if err := readJSON(filepath.Join(dir, domain.ManifestFileName), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
