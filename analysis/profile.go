package analysis

import (
	"context"
	"fmt"
)

// AnalyzerProfileHotspots is the profile bridge analyzer's name.
const AnalyzerProfileHotspots = "profile-hotspots"

// ProfileEntry is one ranked profiling entry (a thread, method or
// allocation site).
type ProfileEntry struct {
	Name        string  `json:"name" yaml:"name"`
	SampleCount int64   `json:"sample_count" yaml:"sample_count"`
	Percentage  float64 `json:"percentage" yaml:"percentage"`
}

// StackProfile is one ranked sampled stack.
type StackProfile struct {
	Frames      []string `json:"frames" yaml:"frames"`
	SampleCount int64    `json:"sample_count" yaml:"sample_count"`
	Percentage  float64  `json:"percentage" yaml:"percentage"`
}

// ProfileSummary is the narrow facade over a companion profiling
// recording. The recording's own parser lives outside this module; the
// analysis only ever consumes this interface, and a nil handle means no
// recording was supplied.
type ProfileSummary interface {
	// HottestThreads returns the top n threads by sample count.
	HottestThreads(n int) []ProfileEntry

	// HottestMethods returns the top n methods by sample count.
	HottestMethods(n int) []ProfileEntry

	// LockContentionSummary describes the recording's monitor contention.
	LockContentionSummary() string

	// IOSummary describes the recording's file and socket activity.
	IOSummary() string

	// AllocationHotspots returns the top n allocation sites.
	AllocationHotspots(n int) []ProfileEntry

	// StackProfiles returns the top n sampled stacks.
	StackProfiles(n int) []StackProfile
}

// hotspotTopN is how many entries per dimension the bridge surfaces.
const hotspotTopN = 5

// ProfileHotspotsReport is the bridge analyzer's typed payload.
type ProfileHotspotsReport struct {
	Threads     []ProfileEntry `json:"threads" yaml:"threads"`
	Methods     []ProfileEntry `json:"methods" yaml:"methods"`
	Allocations []ProfileEntry `json:"allocations,omitempty" yaml:"allocations,omitempty"`
	Stacks      []StackProfile `json:"stacks,omitempty" yaml:"stacks,omitempty"`
	Locks       string         `json:"locks,omitempty" yaml:"locks,omitempty"`
	IO          string         `json:"io,omitempty" yaml:"io,omitempty"`
}

// profileHotspotsAnalyzer surfaces the profiling recording's hotspots
// next to the dump findings, for attribution. Skipped when no recording
// is attached.
type profileHotspotsAnalyzer struct{}

// NewProfileHotspotsAnalyzer returns the profile bridge analyzer.
func NewProfileHotspotsAnalyzer() Analyzer { return profileHotspotsAnalyzer{} }

func (profileHotspotsAnalyzer) Name() string                    { return AnalyzerProfileHotspots }
func (profileHotspotsAnalyzer) Priority() int                   { return 40 }
func (profileHotspotsAnalyzer) RequiresMultipleSnapshots() bool { return false }
func (profileHotspotsAnalyzer) RequiresProfile() bool           { return true }

func (a profileHotspotsAnalyzer) Analyze(ctx context.Context, ac *Context) *Result {
	res := newResult(AnalyzerProfileHotspots, ac.Timestamp())
	p := ac.Profile
	report := &ProfileHotspotsReport{
		Threads:     p.HottestThreads(hotspotTopN),
		Methods:     p.HottestMethods(hotspotTopN),
		Allocations: p.AllocationHotspots(hotspotTopN),
		Stacks:      p.StackProfiles(hotspotTopN),
		Locks:       p.LockContentionSummary(),
		IO:          p.IOSummary(),
	}
	res.Data = report

	for _, e := range report.Threads {
		res.AddFinding(Finding{
			Category: "hot-thread",
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("thread %q holds %.1f%% of samples (%d)", e.Name, e.Percentage, e.SampleCount),
		})
	}
	for _, e := range report.Methods {
		res.AddFinding(Finding{
			Category: "hot-method",
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("method %s holds %.1f%% of samples (%d)", e.Name, e.Percentage, e.SampleCount),
		})
	}

	res.Summary = fmt.Sprintf("%d hot thread(s), %d hot method(s) from profiling recording",
		len(report.Threads), len(report.Methods))
	return res
}
