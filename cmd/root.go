// Package cmd implements the command-line interface for threadscope.
// It uses the Cobra library to handle commands, flags, and execution.
package cmd

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version information (passed from main)
var (
	version string
	commit  string
	date    string
)

// Exit codes of the stall subcommand.
const (
	exitHealthy     = 0
	exitStall       = 1
	exitDeadlock    = 2
	exitOperational = 3
)

// Flag variables for command-line options.
// These are package-level variables as required by Cobra's flag binding.
var (
	// Output format flags
	formatFlag string // --format: text, json, yaml, markdown

	// Thread visibility flags
	includeDaemonFlag bool     // --include-daemon: keep daemon threads in analysis
	includeGcFlag     bool     // --include-gc: keep GC threads in analysis
	includeVmFlag     bool     // --include-vm: keep VM service threads in analysis
	ignoreFlag        []string // --ignore: exclude threads matching regex

	// Threshold flags
	optionsFileFlag   string  // --options: YAML options file
	stallThreshold    float64 // --stall-threshold
	hotLockWaiters    int     // --hot-lock-waiters
	longHeldSnapshots int     // --long-held-snapshots
	minGroupSize      int     // --min-group-size
	degradingDelta    int     // --degrading-delta
	criticalDrop      int     // --critical-drop

	// Capture flags (stall subcommand)
	captureInterval time.Duration // --interval: delay between samples
	captureCount    int           // --count: number of samples
	captureTool     string        // --tool: force jstack or jcmd

	// Debug flag
	verboseFlag bool // --verbose: debug logging
)

// rootCmd is the main command for the threadscope CLI.
var rootCmd = &cobra.Command{
	Use:   "threadscope",
	Short: "JVM thread-dump parser and analyzer",
	Long: `threadscope parses jstack / jcmd thread dumps and renders a structured
verdict on whether the process is healthy, stalled, or deadlocked.

It detects deadlock cycles, classifies per-thread progress across
multiple dumps, ranks contended locks, groups similar stacks, tracks
thread-pool utilization, and scores overall health over time.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseFlag {
			log.SetLevel(log.DebugLevel)
		}
	},
}

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Parse one thread dump and print the typed model",
	Args:  cobra.ExactArgs(1),
	RunE:  executeParse,
}

var diffCmd = &cobra.Command{
	Use:   "diff <files or dirs>...",
	Short: "Analyze one or more thread dumps",
	Long: `diff runs the full analysis pipeline over one or more dumps.
With several dumps (files, directories, compressed bundles, or one file
holding concatenated dumps) it additionally classifies per-thread
progress, detects persistent deadlocks, long-held locks and health
trends across the sequence. Use "-" to read from stdin.`,
	Args: cobra.MinimumNArgs(1),
	RunE: executeDiff,
}

var stallCmd = &cobra.Command{
	Use:   "stall <pid>",
	Short: "Sample a running JVM and check it for stalls",
	Long: `stall captures a sequence of thread dumps from a running process via
jstack or jcmd, analyzes them, and exits with a status code:

  0  healthy (or minor issues)
  1  suspected stall
  2  deadlock
  3  operational error`,
	Args: cobra.ExactArgs(1),
	RunE: executeStall,
}

// Execute runs the root command.
// This is called by main.go to start the CLI application.
func Execute(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitOperational)
	}
}

// init initializes all command-line flags.
func init() {
	rootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "text",
		"Output format: text, json, yaml, markdown")
	rootCmd.PersistentFlags().BoolVar(&verboseFlag, "verbose", false,
		"Enable debug logging")

	rootCmd.PersistentFlags().BoolVar(&includeDaemonFlag, "include-daemon", true,
		"Include daemon threads in analysis")
	rootCmd.PersistentFlags().BoolVar(&includeGcFlag, "include-gc", false,
		"Include GC threads in analysis")
	rootCmd.PersistentFlags().BoolVar(&includeVmFlag, "include-vm", false,
		"Include VM service threads in analysis")
	rootCmd.PersistentFlags().StringSliceVarP(&ignoreFlag, "ignore", "i", nil,
		"Exclude threads matching this regex. Can be specified multiple times")

	rootCmd.PersistentFlags().StringVar(&optionsFileFlag, "options", "",
		"YAML file with analysis options (flags override it)")
	rootCmd.PersistentFlags().Float64Var(&stallThreshold, "stall-threshold", 90,
		"Problem-thread percentage that indicates a stall")
	rootCmd.PersistentFlags().IntVar(&hotLockWaiters, "hot-lock-waiters", 3,
		"Waiter count at which a lock is hot")
	rootCmd.PersistentFlags().IntVar(&longHeldSnapshots, "long-held-snapshots", 3,
		"Consecutive snapshots before a lock counts as long-held")
	rootCmd.PersistentFlags().IntVar(&minGroupSize, "min-group-size", 2,
		"Smallest reported stack group")
	rootCmd.PersistentFlags().IntVar(&degradingDelta, "degrading-delta", 10,
		"Largest score change still treated as a stable health trend")
	rootCmd.PersistentFlags().IntVar(&criticalDrop, "critical-drop", 20,
		"Snapshot-to-snapshot score drop flagged as critical")

	stallCmd.Flags().DurationVar(&captureInterval, "interval", 5*time.Second,
		"Delay between dump samples")
	stallCmd.Flags().IntVar(&captureCount, "count", 3,
		"Number of dump samples to take")
	stallCmd.Flags().StringVar(&captureTool, "tool", "",
		"Force the dump tool (jstack or jcmd)")

	rootCmd.AddCommand(parseCmd, diffCmd, stallCmd)
}
