package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Alain-L/threadscope/analysis"
	"github.com/Alain-L/threadscope/capture"
	"github.com/Alain-L/threadscope/output"
	"github.com/Alain-L/threadscope/parser"
)

// executeParse parses a single dump and prints the typed model.
// The model serialization format follows --format; text falls back to
// JSON, the natural shape for a model dump.
func executeParse(cmd *cobra.Command, args []string) error {
	texts, err := parser.ReadInput(args[0])
	if err != nil {
		return err
	}
	dumps := parser.ParseAll(texts)

	var payload any = dumps
	if len(dumps) == 1 {
		payload = dumps[0]
	}

	if formatFlag == "yaml" {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(payload)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// executeDiff runs the analysis pipeline over one or more dumps and
// renders the result tree.
func executeDiff(cmd *cobra.Command, args []string) error {
	files := collectFiles(args)
	if len(files) == 0 {
		return fmt.Errorf("no dump files found")
	}

	var texts [][]byte
	for _, file := range files {
		t, err := parser.ReadInput(file)
		if err != nil {
			log.Warnf("skipping %s: %v", file, err)
			continue
		}
		texts = append(texts, t...)
	}
	if len(texts) == 0 {
		return fmt.Errorf("no readable dumps among %d file(s)", len(files))
	}

	dumps := parser.ParseAll(texts)
	result := analysis.Analyze(cmd.Context(), dumps, buildOptions(cmd), nil)
	return render(result)
}

// executeStall samples a running process, analyzes the sequence, and
// maps the verdict onto the exit code contract.
func executeStall(cmd *cobra.Command, args []string) error {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pid %q", args[0])
	}

	sampler := &capture.Sampler{
		PID:      pid,
		Interval: captureInterval,
		Count:    captureCount,
		Tool:     captureTool,
	}
	texts, err := sampler.Collect(cmd.Context())
	if err != nil {
		return err
	}

	dumps := parser.ParseAll(texts)
	result := analysis.Analyze(cmd.Context(), dumps, buildOptions(cmd), nil)
	if err := render(result); err != nil {
		return err
	}

	verdict := result.Child(analysis.AnalyzerVerdict)
	if verdict != nil {
		if report, ok := verdict.Data.(*analysis.VerdictReport); ok {
			switch report.Status {
			case analysis.StatusDeadlock:
				os.Exit(exitDeadlock)
			case analysis.StatusSuspectedStall:
				os.Exit(exitStall)
			}
		}
	}
	os.Exit(exitHealthy)
	return nil
}

// buildOptions merges the options file (when given) under the flags.
// Only flags the user actually set override the file.
func buildOptions(cmd *cobra.Command) analysis.Options {
	opts := analysis.DefaultOptions()
	if optionsFileFlag != "" {
		loaded, err := analysis.LoadOptionsFile(optionsFileFlag)
		if err != nil {
			log.Warnf("ignoring options file: %v", err)
		} else {
			opts = loaded
		}
	}

	changed := cmd.Flags().Changed
	if changed("include-daemon") || optionsFileFlag == "" {
		opts.IncludeDaemon = includeDaemonFlag
	}
	if changed("include-gc") || optionsFileFlag == "" {
		opts.IncludeGC = includeGcFlag
	}
	if changed("include-vm") || optionsFileFlag == "" {
		opts.IncludeVM = includeVmFlag
	}
	if changed("stall-threshold") {
		opts.StallThresholdPercent = stallThreshold
	}
	if changed("hot-lock-waiters") {
		opts.HotLockWaiterThreshold = hotLockWaiters
	}
	if changed("long-held-snapshots") {
		opts.LongHeldLockMinSnapshots = longHeldSnapshots
	}
	if changed("min-group-size") {
		opts.MinStackGroupSize = minGroupSize
	}
	if changed("degrading-delta") {
		opts.DegradingScoreDelta = degradingDelta
	}
	if changed("critical-drop") {
		opts.CriticalScoreDrop = criticalDrop
	}

	for _, expr := range ignoreFlag {
		opts.AddIgnorePattern(expr)
	}
	return opts
}

// render writes the result tree to stdout in the selected format.
func render(result *analysis.Result) error {
	registry := output.NewRegistry()
	return registry.Lookup(formatFlag).Render(os.Stdout, result)
}
