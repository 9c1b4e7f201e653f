// Package analysis runs a set of independent analyzers over one or more
// parsed thread-dump snapshots and composes their findings into a result
// tree with a consolidated verdict.
package analysis

import (
	"fmt"
	"os"
	"regexp"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Default thresholds. Each one is overridable per run through Options.
const (
	// DefaultStallThresholdPercent is the problem-thread percentage at
	// which the progress summary indicates a stall.
	DefaultStallThresholdPercent = 90.0

	// DefaultHotLockWaiterThreshold is the waiter count at which a
	// contended lock is considered hot.
	DefaultHotLockWaiterThreshold = 3

	// DefaultLongHeldLockMinSnapshots is how many consecutive snapshots a
	// lock must stay with one owner to count as long-held.
	DefaultLongHeldLockMinSnapshots = 3

	// DefaultMinStackGroupSize is the smallest stack group worth reporting.
	DefaultMinStackGroupSize = 2

	// DefaultDegradingScoreDelta is the largest health-score change, in
	// either direction, that is still treated as a stable trend.
	DefaultDegradingScoreDelta = 10

	// DefaultCriticalScoreDrop is the snapshot-to-snapshot score drop
	// flagged as a critical change.
	DefaultCriticalScoreDrop = 20
)

// Options is the immutable configuration every analyzer consumes.
// The zero value is not useful; start from DefaultOptions.
type Options struct {
	// IncludeDaemon makes daemon threads visible to analyzers.
	IncludeDaemon bool `yaml:"include_daemon"`

	// IncludeGC makes the runtime's GC threads visible to analyzers.
	IncludeGC bool `yaml:"include_gc"`

	// IncludeVM makes VM-internal threads (compiler, signal dispatcher,
	// service threads) visible to analyzers.
	IncludeVM bool `yaml:"include_vm"`

	// IgnorePatterns excludes threads whose name matches any pattern from
	// analysis. The threads remain in the raw snapshot.
	IgnorePatterns []*regexp.Regexp `yaml:"-"`

	StallThresholdPercent    float64 `yaml:"stall_threshold_percent"`
	HotLockWaiterThreshold   int     `yaml:"hot_lock_waiter_threshold"`
	LongHeldLockMinSnapshots int     `yaml:"long_held_lock_min_snapshots"`
	MinStackGroupSize        int     `yaml:"min_stack_group_size"`
	DegradingScoreDelta      int     `yaml:"degrading_score_delta"`
	CriticalScoreDrop        int     `yaml:"critical_score_drop"`
}

// DefaultOptions returns the baseline configuration: daemon threads
// visible, GC and VM threads hidden, all thresholds at their defaults.
func DefaultOptions() Options {
	return Options{
		IncludeDaemon:            true,
		StallThresholdPercent:    DefaultStallThresholdPercent,
		HotLockWaiterThreshold:   DefaultHotLockWaiterThreshold,
		LongHeldLockMinSnapshots: DefaultLongHeldLockMinSnapshots,
		MinStackGroupSize:        DefaultMinStackGroupSize,
		DegradingScoreDelta:      DefaultDegradingScoreDelta,
		CriticalScoreDrop:        DefaultCriticalScoreDrop,
	}
}

// AddIgnorePattern compiles expr and appends it to the ignore list.
// An unparsable pattern is logged and skipped; it never fails the run.
func (o *Options) AddIgnorePattern(expr string) {
	re, err := regexp.Compile(expr)
	if err != nil {
		log.Warnf("skipping invalid ignore pattern %q: %v", expr, err)
		return
	}
	o.IgnorePatterns = append(o.IgnorePatterns, re)
}

// Ignored reports whether a thread name matches any ignore pattern.
func (o *Options) Ignored(name string) bool {
	for _, re := range o.IgnorePatterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// optionsFile is the YAML shape of an options file. Patterns are listed
// as plain strings and compiled on load.
type optionsFile struct {
	Options        `yaml:",inline"`
	IgnorePatterns []string `yaml:"ignore_patterns"`
}

// LoadOptionsFile reads analysis options from a YAML file, starting from
// the defaults. Unknown keys are ignored; invalid ignore patterns are
// logged and skipped.
func LoadOptionsFile(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultOptions(), fmt.Errorf("failed to read options file: %w", err)
	}
	f := optionsFile{Options: DefaultOptions()}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return DefaultOptions(), fmt.Errorf("failed to parse options file %s: %w", path, err)
	}
	opts := f.Options
	for _, expr := range f.IgnorePatterns {
		opts.AddIgnorePattern(expr)
	}
	return opts, nil
}
