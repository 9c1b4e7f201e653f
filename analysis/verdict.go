package analysis

import (
	"context"
	"fmt"

	"github.com/Alain-L/threadscope/parser"
)

// AnalyzerVerdict is the verdict consolidator's name.
const AnalyzerVerdict = "verdict"

// CategoryCriticalChange flags a snapshot-to-snapshot health collapse.
const CategoryCriticalChange = "critical-change"

// VerdictStatus is the one-word answer the whole pipeline exists for.
type VerdictStatus string

const (
	StatusHealthy        VerdictStatus = "HEALTHY"
	StatusMinorIssues    VerdictStatus = "MINOR_ISSUES"
	StatusSuspectedStall VerdictStatus = "SUSPECTED_STALL"
	StatusDeadlock       VerdictStatus = "DEADLOCK"
)

// Trend is the health direction across the snapshot sequence.
type Trend string

const (
	TrendImproving Trend = "IMPROVING"
	TrendStable    Trend = "STABLE"
	TrendDegrading Trend = "DEGRADING"
)

// Health score categories, tracked independently per snapshot.
const (
	ScoreThreadStates   = "Thread States"
	ScoreLockContention = "Lock Contention"
	ScoreIO             = "I/O"
	ScoreGC             = "GC"
	ScoreThreadPool     = "Thread Pool"
)

var scoreCategories = []string{
	ScoreThreadStates, ScoreLockContention, ScoreIO, ScoreGC, ScoreThreadPool,
}

// TimeDistribution is the last snapshot's thread-state split. The five
// buckets sum to 100; the rounding residual is absorbed into the largest
// bucket.
type TimeDistribution struct {
	RunningPercent float64 `json:"running_percent" yaml:"running_percent"`
	BlockedPercent float64 `json:"blocked_percent" yaml:"blocked_percent"`
	WaitingPercent float64 `json:"waiting_percent" yaml:"waiting_percent"`
	IOPercent      float64 `json:"io_percent" yaml:"io_percent"`
	GCPercent      float64 `json:"gc_percent" yaml:"gc_percent"`
}

// SnapshotHealth is one snapshot's bounded [0,100] health score with its
// per-category breakdown.
type SnapshotHealth struct {
	SnapshotIndex int            `json:"snapshot_index" yaml:"snapshot_index"`
	Score         int            `json:"score" yaml:"score"`
	Categories    map[string]int `json:"categories" yaml:"categories"`
}

// HealthEvolution is the multi-snapshot health trajectory.
type HealthEvolution struct {
	Scores []SnapshotHealth `json:"scores" yaml:"scores"`

	// Trend compares the first and last snapshot's scores.
	Trend Trend `json:"trend" yaml:"trend"`

	// ScoreChange is last score minus first score.
	ScoreChange int `json:"score_change" yaml:"score_change"`

	// CriticalChangeIndex is the first snapshot whose score dropped by
	// at least the configured criticalScoreDrop from its predecessor,
	// -1 when none did. Improvements never set it.
	CriticalChangeIndex int `json:"critical_change_index" yaml:"critical_change_index"`

	DegradingCategories []string `json:"degrading_categories,omitempty" yaml:"degrading_categories,omitempty"`
	ImprovingCategories []string `json:"improving_categories,omitempty" yaml:"improving_categories,omitempty"`
}

// VerdictReport is the consolidated answer.
type VerdictReport struct {
	Status VerdictStatus `json:"status" yaml:"status"`

	// Items are the headline observations backing the status.
	Items []string `json:"items" yaml:"items"`

	TimeDistribution TimeDistribution `json:"time_distribution" yaml:"time_distribution"`

	// Evolution is nil with a single snapshot.
	Evolution *HealthEvolution `json:"evolution,omitempty" yaml:"evolution,omitempty"`
}

// maxVerdictItems caps the headline list.
const maxVerdictItems = 10

// verdictAnalyzer consolidates every other analyzer's result into the
// final status, the time distribution and the health evolution. The
// engine runs it last and hands it the accumulated children.
type verdictAnalyzer struct{}

// NewVerdictAnalyzer returns the verdict consolidator.
func NewVerdictAnalyzer() Analyzer { return verdictAnalyzer{} }

func (verdictAnalyzer) Name() string                    { return AnalyzerVerdict }
func (verdictAnalyzer) Priority() int                   { return 110 }
func (verdictAnalyzer) RequiresMultipleSnapshots() bool { return false }
func (verdictAnalyzer) RequiresProfile() bool           { return false }

// Analyze satisfies the Analyzer interface; the engine never calls it
// directly because the verdict is a consolidator.
func (v verdictAnalyzer) Analyze(ctx context.Context, ac *Context) *Result {
	return v.Consolidate(ctx, ac, nil)
}

func (v verdictAnalyzer) Consolidate(ctx context.Context, ac *Context, children []*Result) *Result {
	res := newResult(AnalyzerVerdict, ac.Timestamp())
	report := &VerdictReport{}
	res.Data = report

	findings := collectFindings(children)
	report.Status = verdictStatus(ac, children, findings)
	res.Severity = statusSeverity(report.Status)

	for _, f := range findings {
		if f.Severity.AtLeast(SeverityWarning) && len(report.Items) < maxVerdictItems {
			report.Items = append(report.Items, f.Message)
		}
	}

	if len(ac.Snapshots) > 0 {
		report.TimeDistribution = timeDistribution(ac, len(ac.Snapshots)-1)
	}

	scores := healthScores(ac, children)
	if len(scores) >= 2 {
		report.Evolution = buildEvolution(scores, &ac.Options)
		if idx := report.Evolution.CriticalChangeIndex; idx >= 0 {
			res.AddFinding(Finding{
				Category: CategoryCriticalChange,
				Severity: SeverityWarning,
				Message: fmt.Sprintf("health score dropped from %d to %d at snapshot %d",
					scores[idx-1].Score, scores[idx].Score, idx),
			})
		}
	}

	res.Summary = verdictSummary(report, scores)
	return res
}

// verdictStatus applies the consolidation rule ladder.
func verdictStatus(ac *Context, children []*Result, findings []Finding) VerdictStatus {
	for _, c := range children {
		if c.Severity == SeverityCritical {
			return StatusDeadlock
		}
	}
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			return StatusDeadlock
		}
	}

	stall := false
	if pr, ok := childData[*ProgressReport](children, AnalyzerProgress); ok {
		stall = pr.Summary.IndicatesStall(ac.Options.StallThresholdPercent)
	}
	if !stall {
		for _, f := range findings {
			switch f.Category {
			case CategoryPoolExhaustedChronic, CategoryIOStuck, CategoryLongHeldLock:
				stall = true
			}
		}
	}
	if stall {
		return StatusSuspectedStall
	}

	for _, f := range findings {
		if f.Severity.AtLeast(SeverityWarning) {
			return StatusMinorIssues
		}
	}
	return StatusHealthy
}

func statusSeverity(s VerdictStatus) Severity {
	switch s {
	case StatusDeadlock:
		return SeverityCritical
	case StatusSuspectedStall:
		return SeverityError
	case StatusMinorIssues:
		return SeverityWarning
	default:
		return SeverityOK
	}
}

func verdictSummary(report *VerdictReport, scores []SnapshotHealth) string {
	s := string(report.Status)
	if len(scores) > 0 {
		s += fmt.Sprintf(", health score %d", scores[len(scores)-1].Score)
	}
	if report.Evolution != nil {
		s += fmt.Sprintf(", trend %s", report.Evolution.Trend)
	}
	return s
}

// stateBuckets is the raw census behind a time distribution.
type stateBuckets struct {
	running, blocked, waiting, io, gc, total int
}

// bucketize assigns every non-ignored thread of a snapshot to exactly one
// bucket. GC threads count as GC whatever their state; a runnable thread
// sitting in an I/O call counts as I/O, not running.
func bucketize(ac *Context, si int) stateBuckets {
	var b stateBuckets
	snap := ac.Snapshots[si]
	for ti := range snap.Threads {
		t := &snap.Threads[ti]
		if ac.Options.Ignored(t.Name) {
			continue
		}
		b.total++
		switch {
		case IsGCThread(t.Name):
			b.gc++
		case classifyIO(t.Stack) != IONone:
			b.io++
		case t.State == parser.StateBlocked:
			b.blocked++
		case t.State == parser.StateRunnable:
			b.running++
		default:
			b.waiting++
		}
	}
	return b
}

// timeDistribution converts the census to percentages summing to 100,
// absorbing the rounding residual into the largest bucket.
func timeDistribution(ac *Context, si int) TimeDistribution {
	b := bucketize(ac, si)
	if b.total == 0 {
		return TimeDistribution{}
	}
	vals := []float64{
		percent(b.running, b.total),
		percent(b.blocked, b.total),
		percent(b.waiting, b.total),
		percent(b.io, b.total),
		percent(b.gc, b.total),
	}
	sum := 0.0
	largest := 0
	for i, v := range vals {
		sum += v
		if v > vals[largest] {
			largest = i
		}
	}
	vals[largest] = round1(vals[largest] + 100 - sum)

	return TimeDistribution{
		RunningPercent: vals[0],
		BlockedPercent: vals[1],
		WaitingPercent: vals[2],
		IOPercent:      vals[3],
		GCPercent:      vals[4],
	}
}

// healthScores computes one bounded score per snapshot, with category
// breakdowns tracked independently.
//
// Deductions for the overall score:
//   - blocked% >= 10: -10; >= 25: another -15
//   - waiting% >= 70: -5, waived for pool-heavy dumps already at >= 50
//   - each deadlock participant: -60 (a two-way deadlock floors the score)
//   - each hot lock: -5, capped at -20
//   - each io-stuck thread: -2, capped at -10
func healthScores(ac *Context, children []*Result) []SnapshotHealth {
	deadlocks, _ := childData[*DeadlockReport](children, AnalyzerDeadlock)
	contention, _ := childData[*ContentionReport](children, AnalyzerContention)
	ioReport, _ := childData[*IOBlockReport](children, AnalyzerIOBlock)
	gcReport, _ := childData[*GCReport](children, AnalyzerGCActivity)

	ioDeduction := 0
	if ioReport != nil {
		ioDeduction = 2 * ioReport.StuckCount
		if ioDeduction > 10 {
			ioDeduction = 10
		}
	}

	scores := make([]SnapshotHealth, 0, len(ac.Snapshots))
	for si := range ac.Snapshots {
		b := bucketize(ac, si)
		dist := timeDistribution(ac, si)

		threadStates := 0
		if b.total > 0 {
			if dist.BlockedPercent >= 10 {
				threadStates += 10
			}
			if dist.BlockedPercent >= 25 {
				threadStates += 15
			}
			if dist.WaitingPercent >= 70 && !(dist.WaitingPercent >= 50 && poolHeavy(ac, si)) {
				threadStates += 5
			}
		}

		lockContention := 0
		if deadlocks != nil {
			for _, c := range deadlocks.Cycles {
				if c.SnapshotIndex == si {
					lockContention += 60 * len(c.Participants)
				}
			}
		}
		hot := 0
		if contention != nil {
			for _, l := range contention.Locks {
				if l.SnapshotIndex == si && l.Hot {
					hot++
				}
			}
		}
		hotDeduction := 5 * hot
		if hotDeduction > 20 {
			hotDeduction = 20
		}
		lockContention += hotDeduction

		gcDeduction := 0
		if gcReport != nil && si < len(gcReport.Snapshots) && len(gcReport.Snapshots) > 0 {
			base := gcReport.Snapshots[0].Runnable
			if base > 0 && gcReport.Snapshots[si].Runnable > gcPressureFactor*base {
				gcDeduction = 10
			}
		}

		poolDeduction := 0
		membership := PoolMembership(ac.VisibleThreads(si))
		exhausted := exhaustedPools(ac, si, membership)
		poolDeduction = 10 * exhausted
		if poolDeduction > 20 {
			poolDeduction = 20
		}

		sh := SnapshotHealth{
			SnapshotIndex: si,
			Score:         clampScore(100 - threadStates - lockContention - ioDeduction),
			Categories: map[string]int{
				ScoreThreadStates:   clampScore(100 - threadStates),
				ScoreLockContention: clampScore(100 - lockContention),
				ScoreIO:             clampScore(100 - ioDeduction),
				ScoreGC:             clampScore(100 - gcDeduction),
				ScoreThreadPool:     clampScore(100 - poolDeduction),
			},
		}
		scores = append(scores, sh)
	}
	return scores
}

// poolHeavy reports whether at least half the snapshot's visible threads
// belong to detected pools; a mostly-waiting dump of pooled workers is
// the healthy idle shape, not a problem.
func poolHeavy(ac *Context, si int) bool {
	threads := ac.VisibleThreads(si)
	if len(threads) == 0 {
		return false
	}
	membership := PoolMembership(threads)
	pooled := 0
	for _, t := range threads {
		if _, ok := membership[t.Name]; ok {
			pooled++
		}
	}
	return pooled*2 >= len(threads)
}

// exhaustedPools counts the snapshot's pools with every member runnable.
func exhaustedPools(ac *Context, si int, membership map[string]string) int {
	size := make(map[string]int)
	runnable := make(map[string]int)
	for _, t := range ac.VisibleThreads(si) {
		pool, ok := membership[t.Name]
		if !ok {
			continue
		}
		size[pool]++
		if t.State == parser.StateRunnable {
			runnable[pool]++
		}
	}
	n := 0
	for pool, sz := range size {
		if sz > 0 && runnable[pool] == sz {
			n++
		}
	}
	return n
}

// buildEvolution derives the trend, the first critical change and the
// per-category movements from the per-snapshot scores.
func buildEvolution(scores []SnapshotHealth, opts *Options) *HealthEvolution {
	ev := &HealthEvolution{Scores: scores, CriticalChangeIndex: -1}

	first, last := scores[0], scores[len(scores)-1]
	ev.ScoreChange = last.Score - first.Score
	switch {
	case abs(ev.ScoreChange) <= opts.DegradingScoreDelta:
		ev.Trend = TrendStable
	case ev.ScoreChange < 0:
		ev.Trend = TrendDegrading
	default:
		ev.Trend = TrendImproving
	}

	for i := 1; i < len(scores); i++ {
		if scores[i].Score-scores[i-1].Score <= -opts.CriticalScoreDrop {
			ev.CriticalChangeIndex = i
			break
		}
	}

	for _, cat := range scoreCategories {
		diff := last.Categories[cat] - first.Categories[cat]
		switch {
		case diff < -10:
			ev.DegradingCategories = append(ev.DegradingCategories, cat)
		case diff > 10:
			ev.ImprovingCategories = append(ev.ImprovingCategories, cat)
		}
	}
	return ev
}

// collectFindings flattens the children's findings in tree order.
func collectFindings(children []*Result) []Finding {
	var out []Finding
	for _, c := range children {
		out = append(out, c.AllFindings()...)
	}
	return out
}

// childData fetches a child's typed payload.
func childData[T any](children []*Result, analyzer string) (T, bool) {
	var zero T
	for _, c := range children {
		if c.Analyzer == analyzer {
			if d, ok := c.Data.(T); ok {
				return d, true
			}
		}
	}
	return zero, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
