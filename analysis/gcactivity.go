package analysis

import (
	"context"
	"fmt"

	"github.com/Alain-L/threadscope/parser"
)

// AnalyzerGCActivity is the GC activity analyzer's name.
const AnalyzerGCActivity = "gc-activity"

// CategoryGCPressure flags collector activity well above its baseline.
const CategoryGCPressure = "gc-pressure"

// gcPressureFactor: running GC workers beyond this multiple of the first
// snapshot's level escalate from INFO to WARNING.
const gcPressureFactor = 2

// GCSnapshot is the collector thread census of one snapshot.
type GCSnapshot struct {
	SnapshotIndex int `json:"snapshot_index" yaml:"snapshot_index"`

	// Threads is the number of GC threads present.
	Threads int `json:"threads" yaml:"threads"`

	// Runnable is how many of them are runnable (actively collecting).
	Runnable int `json:"runnable" yaml:"runnable"`

	// RunnablePercent is Runnable / Threads * 100.
	RunnablePercent float64 `json:"runnable_percent" yaml:"runnable_percent"`
}

// GCReport is the GC activity analyzer's typed payload.
type GCReport struct {
	Snapshots []GCSnapshot `json:"snapshots" yaml:"snapshots"`
}

// gcActivityAnalyzer trends the collector thread population and how much
// of it is running. It reads the raw snapshots: GC threads are usually
// filtered out of the visible set, which is exactly why this analyzer
// exists separately.
type gcActivityAnalyzer struct{}

// NewGCActivityAnalyzer returns the GC activity analyzer.
func NewGCActivityAnalyzer() Analyzer { return gcActivityAnalyzer{} }

func (gcActivityAnalyzer) Name() string                    { return AnalyzerGCActivity }
func (gcActivityAnalyzer) Priority() int                   { return 45 }
func (gcActivityAnalyzer) RequiresMultipleSnapshots() bool { return false }
func (gcActivityAnalyzer) RequiresProfile() bool           { return false }

func (a gcActivityAnalyzer) Analyze(ctx context.Context, ac *Context) *Result {
	res := newResult(AnalyzerGCActivity, ac.Timestamp())
	report := &GCReport{}
	res.Data = report

	if len(ac.Snapshots) == 0 {
		res.Summary = "no snapshots"
		return res
	}

	for si, snap := range ac.Snapshots {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		gs := GCSnapshot{SnapshotIndex: si}
		for ti := range snap.Threads {
			t := &snap.Threads[ti]
			if !IsGCThread(t.Name) {
				continue
			}
			gs.Threads++
			if t.State == parser.StateRunnable {
				gs.Runnable++
			}
		}
		gs.RunnablePercent = percent(gs.Runnable, gs.Threads)
		report.Snapshots = append(report.Snapshots, gs)
	}

	baseline := report.Snapshots[0].Runnable
	worst := report.Snapshots[0]
	for _, gs := range report.Snapshots[1:] {
		if gs.Runnable > worst.Runnable {
			worst = gs
		}
	}

	switch {
	case worst.Threads == 0:
		res.Summary = "no GC threads found"
	case baseline > 0 && worst.Runnable > gcPressureFactor*baseline:
		res.Summary = fmt.Sprintf("GC activity rose from %d to %d running workers", baseline, worst.Runnable)
		res.AddFinding(Finding{
			Category: CategoryGCPressure,
			Severity: SeverityWarning,
			Message: fmt.Sprintf("running GC workers grew from %d to %d by snapshot %d",
				baseline, worst.Runnable, worst.SnapshotIndex),
		})
	default:
		res.Summary = fmt.Sprintf("%d GC thread(s), %d running at peak", worst.Threads, worst.Runnable)
		if worst.Runnable > 0 {
			res.AddFinding(Finding{
				Category: CategoryGCPressure,
				Severity: SeverityInfo,
				Message:  fmt.Sprintf("%d GC worker(s) running in snapshot %d", worst.Runnable, worst.SnapshotIndex),
			})
		}
	}
	return res
}
