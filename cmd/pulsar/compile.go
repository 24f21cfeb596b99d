package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsar-rules/pulsar/internal/compiler"
	"github.com/pulsar-rules/pulsar/internal/domain"
)

func compileCmd() *cobra.Command {
	var (
		rulesPath  string
		configPath string
		outputDir  string
		checkOnly  bool
		sequential bool
	)
	opts := domain.DefaultCompileOptions()

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a rule set into an execution plan and manifest",
		Run: func(cmd *cobra.Command, args []string) {
			opts.GroupParallelRules = !sequential
			opts.BuildTime = buildTime()

			dir := outputDir
			if checkOnly {
				dir = ""
			}

			res, err := compiler.Compile(rulesPath, configPath, dir, opts)
			if err != nil {
				fmt.Fprintln(os.Stderr, compiler.FormatError(err))
				os.Exit(compiler.ExitCode(err))
			}

			for _, w := range res.Warnings {
				slog.Warn("compile warning", "code", w.Code, "rule", w.Rule, "detail", w.Detail)
			}
			slog.Info("compilation succeeded",
				"rules", res.Manifest.TotalRules,
				"layers", res.Manifest.LayerCount,
				"groups", len(res.Plan.Groups),
				"check_only", checkOnly,
			)
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", "", "path to the rules YAML document")
	cmd.Flags().StringVar(&configPath, "config", "", "path to the system configuration YAML document")
	cmd.Flags().StringVar(&outputDir, "output", "", "directory for the emitted plan and manifest")
	cmd.Flags().IntVar(&opts.MaxRulesPerGroup, "max-rules-per-group", opts.MaxRulesPerGroup, "cap on rules per execution group")
	cmd.Flags().IntVar(&opts.MaxLinesPerGroup, "max-lines-per-group", opts.MaxLinesPerGroup, "cap on emitted lines per execution group")
	cmd.Flags().IntVar(&opts.MaxChainDepth, "max-chain-depth", opts.MaxChainDepth, "dependency chain length that triggers a warning")
	cmd.Flags().BoolVar(&sequential, "sequential-groups", false, "allow groups to span layers and disable intra-group parallelism")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "validate and analyze without emitting artifacts")
	_ = cmd.MarkFlagRequired("rules")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

// buildTime returns the artifact timestamp; PULSAR_BUILD_TIME pins it for
// reproducible builds.
func buildTime() string {
	if t := os.Getenv("PULSAR_BUILD_TIME"); t != "" {
		if _, err := time.Parse(time.RFC3339, t); err == nil {
			return t
		}
		slog.Warn("ignoring malformed PULSAR_BUILD_TIME", "value", t)
	}
	return time.Now().UTC().Format(time.RFC3339)
}
