package analysis

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Alain-L/threadscope/parser"
)

// AnalyzerPools is the thread pool analyzer's name.
const AnalyzerPools = "thread-pool"

// Pool finding categories.
const (
	CategoryPoolExhausted        = "pool-exhausted"
	CategoryPoolExhaustedChronic = "pool-exhausted-chronic"
)

// chronicExhaustionSnapshots is how many snapshots at full utilization
// turn an exhausted pool into an error.
const chronicExhaustionSnapshots = 3

// namedPoolMinMembers is the member count the named-pool heuristic
// requires before it believes a prefix is a pool.
const namedPoolMinMembers = 3

// Pool name families:
//   - "pool-7-thread-12"                         generic executor pool 7
//   - "ForkJoinPool-2-worker-5"                  fork-join pool 2
//   - "ForkJoinPool.commonPool-worker-3"         the common pool
//   - "kafka-producer-network-thread-1" (3+ alike) named pool, by heuristic
var (
	executorPoolPattern = regexp.MustCompile(`^pool-(\d+)-thread-\d+$`)
	forkJoinPoolPattern = regexp.MustCompile(`^(ForkJoinPool(?:-\d+|\.commonPool))-worker-\d+$`)

	// namedPoolPattern splits an arbitrary name into a prefix and a
	// strictly numeric suffix. The prefix must end in a character that is
	// neither a digit nor a hyphen, so "worker-12" and "worker-1" share
	// "worker", not "worker-1".
	namedPoolPattern = regexp.MustCompile(`^(.*[^-\d])-?(\d+)$`)
)

// PoolStats is one pool's state in one snapshot.
type PoolStats struct {
	SnapshotIndex int    `json:"snapshot_index" yaml:"snapshot_index"`
	Name          string `json:"name" yaml:"name"`
	Size          int    `json:"size" yaml:"size"`
	Runnable      int    `json:"runnable" yaml:"runnable"`
	Waiting       int    `json:"waiting" yaml:"waiting"`
	Blocked       int    `json:"blocked" yaml:"blocked"`
	Other         int    `json:"other" yaml:"other"`

	// UtilizationPercent is Runnable / Size * 100.
	UtilizationPercent float64 `json:"utilization_percent" yaml:"utilization_percent"`

	// Exhausted means every member is runnable: no capacity left.
	Exhausted bool `json:"exhausted" yaml:"exhausted"`

	// Idle means no member is runnable.
	Idle bool `json:"idle" yaml:"idle"`
}

// PoolReport is the pool analyzer's typed payload.
type PoolReport struct {
	// Pools holds every detected pool per snapshot, sorted by snapshot
	// then pool name.
	Pools []PoolStats `json:"pools" yaml:"pools"`
}

// PoolMembership maps thread names of one snapshot to their pool name.
// The pool analyzer and the verdict's pool-heavy test and pool deduction
// each call it on a snapshot's visible threads.
func PoolMembership(threads []*parser.ThreadInfo) map[string]string {
	membership := make(map[string]string)
	namedCandidates := make(map[string][]string)

	for _, t := range threads {
		if m := executorPoolPattern.FindStringSubmatch(t.Name); m != nil {
			membership[t.Name] = "pool-" + m[1]
			continue
		}
		if m := forkJoinPoolPattern.FindStringSubmatch(t.Name); m != nil {
			membership[t.Name] = m[1]
			continue
		}
		if m := namedPoolPattern.FindStringSubmatch(t.Name); m != nil {
			prefix := strings.TrimRight(m[1], "-")
			namedCandidates[prefix] = append(namedCandidates[prefix], t.Name)
		}
	}

	for prefix, members := range namedCandidates {
		if len(members) < namedPoolMinMembers {
			continue
		}
		for _, name := range members {
			if _, taken := membership[name]; !taken {
				membership[name] = prefix
			}
		}
	}
	return membership
}

// poolAnalyzer detects executor pools by thread-name families and tracks
// their utilization per snapshot.
type poolAnalyzer struct{}

// NewPoolAnalyzer returns the thread pool analyzer.
func NewPoolAnalyzer() Analyzer { return poolAnalyzer{} }

func (poolAnalyzer) Name() string                    { return AnalyzerPools }
func (poolAnalyzer) Priority() int                   { return 60 }
func (poolAnalyzer) RequiresMultipleSnapshots() bool { return false }
func (poolAnalyzer) RequiresProfile() bool           { return false }

func (a poolAnalyzer) Analyze(ctx context.Context, ac *Context) *Result {
	res := newResult(AnalyzerPools, ac.Timestamp())
	report := &PoolReport{}
	res.Data = report

	exhaustedCount := make(map[string]int)

	for si := range ac.Snapshots {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		threads := ac.VisibleThreads(si)
		membership := PoolMembership(threads)

		stats := make(map[string]*PoolStats)
		var names []string
		for _, t := range threads {
			pool, ok := membership[t.Name]
			if !ok {
				continue
			}
			s := stats[pool]
			if s == nil {
				s = &PoolStats{SnapshotIndex: si, Name: pool}
				stats[pool] = s
				names = append(names, pool)
			}
			s.Size++
			switch t.State {
			case parser.StateRunnable:
				s.Runnable++
			case parser.StateWaiting, parser.StateTimedWaiting:
				s.Waiting++
			case parser.StateBlocked:
				s.Blocked++
			default:
				s.Other++
			}
		}

		sort.Strings(names)
		for _, name := range names {
			s := stats[name]
			s.UtilizationPercent = percent(s.Runnable, s.Size)
			s.Exhausted = s.Runnable == s.Size
			s.Idle = s.Runnable == 0
			if s.Exhausted {
				exhaustedCount[name]++
			}
			report.Pools = append(report.Pools, *s)
		}
	}

	// One finding per pool, at the worst level it reached.
	var poolNames []string
	for name := range exhaustedCount {
		poolNames = append(poolNames, name)
	}
	sort.Strings(poolNames)
	for _, name := range poolNames {
		n := exhaustedCount[name]
		if n >= chronicExhaustionSnapshots {
			res.AddFinding(Finding{
				Category: CategoryPoolExhaustedChronic,
				Severity: SeverityError,
				Message:  fmt.Sprintf("pool %q exhausted in %d snapshots", name, n),
			})
		} else {
			res.AddFinding(Finding{
				Category: CategoryPoolExhausted,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("pool %q has every thread runnable; no spare capacity", name),
			})
		}
	}

	if len(report.Pools) == 0 {
		res.Summary = "no thread pools detected"
	} else {
		res.Summary = fmt.Sprintf("%d pool observation(s), %d pool(s) exhausted",
			len(report.Pools), len(poolNames))
	}
	return res
}
