package analysis

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alain-L/threadscope/parser"
)

func analyzeAll(t *testing.T, snapshots ...*parser.ThreadDump) (*Result, *VerdictReport) {
	t.Helper()
	return analyzeAllOpts(t, DefaultOptions(), snapshots...)
}

func analyzeAllOpts(t *testing.T, opts Options, snapshots ...*parser.ThreadDump) (*Result, *VerdictReport) {
	t.Helper()
	res := DefaultEngine().Analyze(context.Background(), NewContext(snapshots, opts, nil))
	verdict := res.Child(AnalyzerVerdict)
	require.NotNil(t, verdict)
	report, ok := verdict.Data.(*VerdictReport)
	require.True(t, ok)
	return res, report
}

func TestVerdictHealthyCleanDump(t *testing.T) {
	// Scenario: two threads, one running, one idle.
	root, report := analyzeAll(t, newSnapshot(t0,
		newThread("main", parser.StateRunnable, withCPU(100), withElapsed(1000),
			withStack(frame("com.example.A", "run"))),
		newThread("worker", parser.StateWaiting, withCPU(10), withElapsed(1000),
			withStack(frame("com.example.B", "wait"))),
	))

	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, SeverityOK, root.Child(AnalyzerVerdict).Severity)
	assert.InDelta(t, 50.0, report.TimeDistribution.RunningPercent, 0.01)
	assert.InDelta(t, 0.0, report.TimeDistribution.BlockedPercent, 0.01)
	assert.Nil(t, report.Evolution)
}

func TestVerdictDeadlock(t *testing.T) {
	// Scenario: two-way deadlock.
	root, report := analyzeAll(t, newSnapshot(t0,
		newThread("T1", parser.StateBlocked, holding("0xB", "L"), waitingFor("0xA", "L")),
		newThread("T2", parser.StateBlocked, holding("0xA", "L"), waitingFor("0xB", "L")),
	))

	assert.Equal(t, StatusDeadlock, report.Status)
	verdict := root.Child(AnalyzerVerdict)
	assert.Equal(t, SeverityCritical, verdict.Severity)
	assert.NotEmpty(t, report.Items)
}

func TestVerdictDeadlockScoreFloorsAtZero(t *testing.T) {
	snaps := []*parser.ThreadDump{
		newSnapshot(t0,
			newThread("T1", parser.StateBlocked, holding("0xB", "L"), waitingFor("0xA", "L")),
			newThread("T2", parser.StateBlocked, holding("0xA", "L"), waitingFor("0xB", "L")),
		),
		newSnapshot(t0.Add(5e9),
			newThread("T1", parser.StateBlocked, holding("0xB", "L"), waitingFor("0xA", "L")),
			newThread("T2", parser.StateBlocked, holding("0xA", "L"), waitingFor("0xB", "L")),
		),
	}
	_, report := analyzeAll(t, snaps...)
	require.NotNil(t, report.Evolution)
	for _, s := range report.Evolution.Scores {
		assert.Equal(t, 0, s.Score)
	}
}

func TestVerdictHotLockWithoutDeadlock(t *testing.T) {
	_, report := analyzeAll(t, hotLockSnapshot(10))
	assert.NotEqual(t, StatusDeadlock, report.Status)
	// Ten waiters trip the contention error rung; either classification
	// keeps the run short of a deadlock verdict.
	assert.Contains(t, []VerdictStatus{StatusMinorIssues, StatusSuspectedStall}, report.Status)
}

func TestVerdictSuspectedStallFromIOStuck(t *testing.T) {
	// Scenario: one thread pinned in the same socket read over three dumps.
	snaps := snapshotSeries(3, func(i int) []parser.ThreadInfo {
		return []parser.ThreadInfo{
			newThread("stuck", parser.StateRunnable, withOSID("0x7"), withCPU(10),
				withStack(frame("java.net.SocketInputStream", "read"), frame("com.example.Client", "receive"))),
			newThread("ok", parser.StateRunnable, withOSID("0x8"), withCPU(float64(10*i)),
				withStack(frame("com.example.Main", "loop"))),
		}
	})
	root, report := analyzeAll(t, snaps...)
	assert.Equal(t, StatusSuspectedStall, report.Status)
	assert.Equal(t, SeverityError, root.Child(AnalyzerVerdict).Severity)
}

func TestVerdictMinorIssues(t *testing.T) {
	_, report := analyzeAll(t, hotLockSnapshot(4))
	assert.Contains(t, []VerdictStatus{StatusMinorIssues, StatusSuspectedStall}, report.Status)
	assert.NotEqual(t, StatusHealthy, report.Status)
}

func TestVerdictDegradingTrend(t *testing.T) {
	// Growing share of blocked threads across five dumps: 0, 2, 6, 8 and 10
	// of twenty workers blocked, which with the lock holder makes 0%, 9.5%,
	// 28.6%, 38.1% and 47.6% of 21 threads.
	blocked := []int{0, 2, 6, 8, 10}
	snaps := snapshotSeries(5, func(i int) []parser.ThreadInfo {
		var out []parser.ThreadInfo
		for j := 0; j < 20; j++ {
			name := fmt.Sprintf("t-%d", j)
			if j < blocked[i] {
				out = append(out, newThread(name, parser.StateBlocked, withOSID(fmt.Sprintf("0x%x", j)), waitingFor("0xDD", "L")))
			} else {
				out = append(out, newThread(name, parser.StateRunnable, withOSID(fmt.Sprintf("0x%x", j)), withCPU(float64(i*10))))
			}
		}
		// Keep the contended lock owned so no orphan warnings pile up.
		out = append(out, newThread("holder", parser.StateRunnable, withOSID("0xff"), holding("0xDD", "L"), withCPU(float64(i*10))))
		return out
	})

	_, report := analyzeAll(t, snaps...)
	require.NotNil(t, report.Evolution)
	ev := report.Evolution

	assert.Equal(t, TrendDegrading, ev.Trend)
	assert.LessOrEqual(t, ev.ScoreChange, -10)
	// The 9.5% -> 28.6% transition drops past both blocked thresholds at once.
	assert.GreaterOrEqual(t, ev.CriticalChangeIndex, 1)
	assert.Contains(t, ev.DegradingCategories, ScoreThreadStates)
}

func TestVerdictImprovingNeverCritical(t *testing.T) {
	blocked := []int{10, 0}
	snaps := snapshotSeries(2, func(i int) []parser.ThreadInfo {
		var out []parser.ThreadInfo
		for j := 0; j < 20; j++ {
			name := fmt.Sprintf("t-%d", j)
			if j < blocked[i] {
				out = append(out, newThread(name, parser.StateBlocked, withOSID(fmt.Sprintf("0x%x", j)), waitingFor("0xDD", "L")))
			} else {
				out = append(out, newThread(name, parser.StateRunnable, withOSID(fmt.Sprintf("0x%x", j)), withCPU(float64(i*10))))
			}
		}
		out = append(out, newThread("holder", parser.StateRunnable, withOSID("0xff"), holding("0xDD", "L"), withCPU(float64(i*10))))
		return out
	})

	_, report := analyzeAll(t, snaps...)
	require.NotNil(t, report.Evolution)
	assert.Equal(t, TrendImproving, report.Evolution.Trend)
	assert.Equal(t, -1, report.Evolution.CriticalChangeIndex)
}

func TestVerdictScoreBounds(t *testing.T) {
	snaps := snapshotSeries(3, func(i int) []parser.ThreadInfo {
		return []parser.ThreadInfo{
			newThread("T1", parser.StateBlocked, holding("0xB", "L"), waitingFor("0xA", "L")),
			newThread("T2", parser.StateBlocked, holding("0xA", "L"), waitingFor("0xB", "L")),
		}
	})
	_, report := analyzeAll(t, snaps...)
	require.NotNil(t, report.Evolution)
	for _, s := range report.Evolution.Scores {
		assert.GreaterOrEqual(t, s.Score, 0)
		assert.LessOrEqual(t, s.Score, 100)
		for cat, v := range s.Categories {
			assert.GreaterOrEqual(t, v, 0, cat)
			assert.LessOrEqual(t, v, 100, cat)
		}
	}
}

func TestTimeDistributionSumsToHundred(t *testing.T) {
	// Mixed population: runners, blockers, waiters, io and gc threads.
	snap := newSnapshot(t0,
		newThread("r1", parser.StateRunnable),
		newThread("r2", parser.StateRunnable),
		newThread("b1", parser.StateBlocked, waitingFor("0xA", "L")),
		newThread("w1", parser.StateWaiting),
		newThread("io1", parser.StateRunnable, withStack(frame("java.net.SocketInputStream", "read"))),
		newThread("GC Thread#0", parser.StateRunnable),
		newThread("odd", ""),
	)
	ac := NewContext([]*parser.ThreadDump{snap}, DefaultOptions(), nil)
	d := timeDistribution(ac, 0)
	sum := d.RunningPercent + d.BlockedPercent + d.WaitingPercent + d.IOPercent + d.GCPercent
	assert.InDelta(t, 100.0, sum, 0.11)
}

func TestVerdictEmptySnapshotList(t *testing.T) {
	_, report := analyzeAll(t)
	assert.Equal(t, StatusHealthy, report.Status)
}
