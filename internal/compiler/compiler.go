// Package compiler drives the compilation pipeline: parse, validate,
// analyze, generate, emit. It is single-threaded and pure apart from reading
// the input documents and writing the artifacts.
package compiler

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pulsar-rules/pulsar/internal/analyzer"
	"github.com/pulsar-rules/pulsar/internal/domain"
	"github.com/pulsar-rules/pulsar/internal/parser"
	"github.com/pulsar-rules/pulsar/internal/planner"
	"github.com/pulsar-rules/pulsar/internal/validator"
)

// Process exit codes of the compile command.
const (
	ExitOK         = 0
	ExitInternal   = 1
	ExitValidation = 2
	ExitDependency = 3
	ExitIO         = 4
)

// Result is a successful compilation.
type Result struct {
	Plan     *domain.ExecutionPlan
	Manifest *domain.Manifest
	Config   *domain.SystemConfig
	Warnings []domain.Diagnostic
}

// Compile runs the full pipeline over the input files and, when outDir is
// non-empty, emits the plan and manifest there.
func Compile(rulesPath, configPath, outDir string, opts domain.CompileOptions) (*Result, error) {
	cfg, cfgWarnings, err := parser.ParseSystemConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	rs, ruleWarnings, err := parser.ParseRuleSetFile(rulesPath)
	if err != nil {
		return nil, err
	}

	res, err := CompileSet(rs, cfg, opts)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(append(cfgWarnings, ruleWarnings...), res.Warnings...)

	if outDir != "" {
		if err := planner.WriteArtifacts(outDir, res.Plan, res.Manifest); err != nil {
			return nil, err
		}
		slog.Info("artifacts written",
			"dir", outDir,
			"rules", res.Manifest.TotalRules,
			"layers", res.Manifest.LayerCount,
			"groups", len(res.Plan.Groups),
		)
	}
	return res, nil
}

// CompileSet runs validation, analysis and generation over parsed documents.
func CompileSet(rs *domain.RuleSet, cfg *domain.SystemConfig, opts domain.CompileOptions) (*Result, error) {
	var verrs domain.ValidationErrors
	verrs = append(verrs, validator.ValidateSystemConfig(cfg)...)
	verrs = append(verrs, validator.Validate(rs, cfg)...)
	if len(verrs) > 0 {
		return nil, verrs
	}

	layered, err := analyzer.Analyze(rs, opts)
	if err != nil {
		return nil, err
	}

	plan, manifest := planner.Generate(layered, cfg, opts)
	return &Result{
		Plan:     plan,
		Manifest: manifest,
		Config:   cfg,
		Warnings: layered.Warnings,
	}, nil
}

// ExitCode classifies a compile error per the CLI contract.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var parseErr *domain.ParseError
	var schemaErr *domain.SchemaError
	var validationErrs domain.ValidationErrors
	var depErr *domain.DependencyError
	var emitErr *domain.PlanEmitError

	switch {
	case errors.As(err, &validationErrs), errors.As(err, &parseErr), errors.As(err, &schemaErr):
		return ExitValidation
	case errors.As(err, &depErr):
		return ExitDependency
	case errors.As(err, &emitErr), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return ExitIO
	default:
		return ExitInternal
	}
}

// FormatError renders a compile error for stderr, listing every accumulated
// finding.
func FormatError(err error) string {
	var validationErrs domain.ValidationErrors
	if errors.As(err, &validationErrs) {
		return validationErrs.Error()
	}
	var depErr *domain.DependencyError
	if errors.As(err, &depErr) {
		return depErr.Error()
	}
	return fmt.Sprintf("compile failed: %v", err)
}
