package analysis

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Alain-L/threadscope/parser"
)

// AnalyzerProgress is the thread progress analyzer's name.
const AnalyzerProgress = "thread-progress"

// Progress finding categories.
const (
	CategoryNoProgress = "no-progress"
	CategoryStall      = "stall"
)

// ProgressClass is the per-thread verdict over the snapshot sequence.
type ProgressClass string

const (
	ClassActive               ProgressClass = "ACTIVE"
	ClassRunnableNoProgress   ProgressClass = "RUNNABLE_NO_PROGRESS"
	ClassBlockedOnLock        ProgressClass = "BLOCKED_ON_LOCK"
	ClassWaitingExpected      ProgressClass = "WAITING_EXPECTED"
	ClassTimedWaitingExpected ProgressClass = "TIMED_WAITING_EXPECTED"
	ClassStuck                ProgressClass = "STUCK"
	ClassRestarted            ProgressClass = "RESTARTED"
	ClassNew                  ProgressClass = "NEW"
	ClassTerminated           ProgressClass = "TERMINATED"
	ClassIgnored              ProgressClass = "IGNORED"
	ClassUnknown              ProgressClass = "UNKNOWN"
)

// ProgressClassOrder fixes the rendering order of the class counters.
var ProgressClassOrder = []ProgressClass{
	ClassActive, ClassRunnableNoProgress, ClassBlockedOnLock,
	ClassWaitingExpected, ClassTimedWaitingExpected, ClassStuck,
	ClassRestarted, ClassNew, ClassTerminated, ClassIgnored, ClassUnknown,
}

// Thread-name families whose waiting is the expected idle shape rather
// than a problem signal.
var (
	// idleWorkerPattern matches executor and worker threads that park
	// while waiting for tasks, e.g. "pool-2-thread-7",
	// "ForkJoinPool.commonPool-worker-3", "grpc-default-worker-ELG-1-2".
	idleWorkerPattern = regexp.MustCompile(`^pool-\d+-thread-\d+$|^ForkJoinPool[-.].*worker|-worker-\d+$|[Ee]xecutor|[Dd]ispatcher`)

	// timerPattern matches scheduler and timer threads, whose
	// TIMED_WAITING between ticks is their working state.
	timerPattern = regexp.MustCompile(`(?i)timer|scheduler|cron|watchdog|heartbeat|ticker`)
)

// ThreadProgress is one logical thread's classification.
type ThreadProgress struct {
	Identity string        `json:"identity" yaml:"identity"`
	Name     string        `json:"name" yaml:"name"`
	Class    ProgressClass `json:"class" yaml:"class"`
	Detail   string        `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// ProgressSummary aggregates the per-class counts.
type ProgressSummary struct {
	// Counts holds the number of threads per classification.
	Counts map[ProgressClass]int `json:"counts" yaml:"counts"`

	// Total is the number of classified threads, ignored and terminated
	// ones excluded (they are not part of the last snapshot's population).
	Total int `json:"total" yaml:"total"`

	// ProblemPercentage is (blocked + stuck + no-progress) / Total * 100.
	ProblemPercentage float64 `json:"problem_percentage" yaml:"problem_percentage"`
}

// ProblemCount returns the number of threads in a problem class.
func (s *ProgressSummary) ProblemCount() int {
	return s.Counts[ClassBlockedOnLock] + s.Counts[ClassStuck] + s.Counts[ClassRunnableNoProgress]
}

// IndicatesStall reports whether the problem share reaches the threshold.
func (s *ProgressSummary) IndicatesStall(thresholdPercent float64) bool {
	return s.Total > 0 && s.ProblemPercentage >= thresholdPercent
}

// ProgressReport is the progress analyzer's typed payload.
type ProgressReport struct {
	Threads []ThreadProgress `json:"threads" yaml:"threads"`
	Summary ProgressSummary  `json:"summary" yaml:"summary"`
}

// occurrence is one sighting of a logical thread in one snapshot.
type occurrence struct {
	snapshot int
	thread   *parser.ThreadInfo
}

// progressAnalyzer classifies every logical thread across the whole
// snapshot sequence and aggregates a stall summary. It works on a single
// snapshot too, with the diff-based classes unreachable there.
type progressAnalyzer struct{}

// NewProgressAnalyzer returns the thread progress analyzer.
func NewProgressAnalyzer() Analyzer { return progressAnalyzer{} }

func (progressAnalyzer) Name() string                    { return AnalyzerProgress }
func (progressAnalyzer) Priority() int                   { return 90 }
func (progressAnalyzer) RequiresMultipleSnapshots() bool { return false }
func (progressAnalyzer) RequiresProfile() bool           { return false }

func (a progressAnalyzer) Analyze(ctx context.Context, ac *Context) *Result {
	res := newResult(AnalyzerProgress, ac.Timestamp())
	report := &ProgressReport{Summary: ProgressSummary{Counts: make(map[ProgressClass]int)}}
	res.Data = report

	// Collect every logical thread's occurrences in snapshot order.
	// Ignore patterns are applied during classification (the IGNORED
	// class), not here; include flags are applied here.
	byIdentity := make(map[string][]occurrence)
	var order []string
	for si := range ac.Snapshots {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		snap := ac.Snapshots[si]
		for ti := range snap.Threads {
			t := &snap.Threads[ti]
			if !ac.Options.Ignored(t.Name) && !ac.Visible(t) {
				continue
			}
			id := t.Identity()
			if _, seen := byIdentity[id]; !seen {
				order = append(order, id)
			}
			byIdentity[id] = append(byIdentity[id], occurrence{snapshot: si, thread: t})
		}
	}

	last := len(ac.Snapshots) - 1
	for _, id := range order {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		occs := byIdentity[id]
		tp := classifyThread(id, occs, last, &ac.Options)
		report.Threads = append(report.Threads, tp)
		report.Summary.Counts[tp.Class]++
		if tp.Class != ClassIgnored && tp.Class != ClassTerminated {
			report.Summary.Total++
		}
	}

	s := &report.Summary
	if s.Total > 0 {
		s.ProblemPercentage = float64(s.ProblemCount()) / float64(s.Total) * 100
	}

	a.report(res, s, ac.Options.StallThresholdPercent)
	return res
}

// classifyThread applies the classification rules to one logical thread.
// Lifecycle classes (ignored, terminated, restarted, new) trump the
// state-based ones.
func classifyThread(id string, occs []occurrence, lastSnapshot int, opts *Options) ThreadProgress {
	first := occs[0].thread
	latest := occs[len(occs)-1].thread
	tp := ThreadProgress{Identity: id, Name: latest.Name}

	if opts.Ignored(latest.Name) {
		tp.Class = ClassIgnored
		return tp
	}

	if occs[len(occs)-1].snapshot != lastSnapshot {
		tp.Class = ClassTerminated
		tp.Detail = fmt.Sprintf("last seen in snapshot %d", occs[len(occs)-1].snapshot)
		return tp
	}

	for i := 1; i < len(occs); i++ {
		prev, cur := occs[i-1].thread, occs[i].thread
		if prev.ElapsedTimeMs >= 0 && cur.ElapsedTimeMs >= 0 && cur.ElapsedTimeMs < prev.ElapsedTimeMs {
			tp.Class = ClassRestarted
			tp.Detail = fmt.Sprintf("elapsed dropped from %.0fms to %.0fms", prev.ElapsedTimeMs, cur.ElapsedTimeMs)
			return tp
		}
	}

	if lastSnapshot > 0 && occs[0].snapshot == lastSnapshot {
		tp.Class = ClassNew
		return tp
	}

	sameStack := parser.SameStack(first.Stack, latest.Stack)
	cpuKnown := first.CPUTimeMs >= 0 && latest.CPUTimeMs >= 0
	cpuAdvanced := cpuKnown && latest.CPUTimeMs > first.CPUTimeMs
	allRunnable := true
	sameStateThroughout := true
	for _, o := range occs {
		if o.thread.State != parser.StateRunnable {
			allRunnable = false
		}
		if o.thread.State != latest.State {
			sameStateThroughout = false
		}
	}

	switch {
	case latest.State == parser.StateRunnable && (len(occs) == 1 || cpuAdvanced || !sameStack):
		tp.Class = ClassActive

	case allRunnable && len(occs) > 1 && sameStack && cpuKnown && !cpuAdvanced:
		tp.Class = ClassRunnableNoProgress
		tp.Detail = fmt.Sprintf("cpu pinned at %.2fms over %d snapshots", latest.CPUTimeMs, len(occs))

	case latest.State == parser.StateBlocked:
		tp.Class = ClassBlockedOnLock
		if latest.WaitingOnLockIdentity != "" {
			tp.Detail = "waiting on " + latest.WaitingOnLockIdentity
		}

	case latest.State == parser.StateWaiting && idleWorkerPattern.MatchString(latest.Name):
		tp.Class = ClassWaitingExpected

	case latest.State == parser.StateTimedWaiting && timerPattern.MatchString(latest.Name):
		tp.Class = ClassTimedWaitingExpected

	case latest.State != parser.StateRunnable && len(occs) >= 3 && sameStack && sameStateThroughout:
		tp.Class = ClassStuck
		tp.Detail = fmt.Sprintf("same %s stack across %d snapshots", latest.State, len(occs))

	default:
		tp.Class = ClassUnknown
	}
	return tp
}

// report derives the severity ladder: OK when nothing is wrong, INFO for
// isolated issues, WARNING from three problems up, ERROR on a stall.
func (progressAnalyzer) report(res *Result, s *ProgressSummary, stallThreshold float64) {
	problems := s.ProblemCount()
	switch {
	case problems == 0:
		res.Summary = fmt.Sprintf("all %d threads progressing or idle as expected", s.Total)

	case s.IndicatesStall(stallThreshold):
		res.Summary = fmt.Sprintf("%.1f%% of %d threads show no progress", s.ProblemPercentage, s.Total)
		res.AddFinding(Finding{
			Category: CategoryStall,
			Severity: SeverityError,
			Message: fmt.Sprintf("stall suspected: %d of %d threads blocked, stuck or pinned (%.1f%% >= %.0f%%)",
				problems, s.Total, s.ProblemPercentage, stallThreshold),
		})

	default:
		sev := SeverityInfo
		if problems >= 3 {
			sev = SeverityWarning
		}
		res.Summary = fmt.Sprintf("%d of %d threads show no progress", problems, s.Total)
		res.AddFinding(Finding{
			Category: CategoryNoProgress,
			Severity: sev,
			Message: fmt.Sprintf("%d blocked, %d stuck, %d runnable without progress",
				s.Counts[ClassBlockedOnLock], s.Counts[ClassStuck], s.Counts[ClassRunnableNoProgress]),
		})
	}
}
