package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alain-L/threadscope/parser"
)

func classOf(t *testing.T, res *Result, name string) ProgressClass {
	t.Helper()
	report := res.Data.(*ProgressReport)
	for _, tp := range report.Threads {
		if tp.Name == name {
			return tp.Class
		}
	}
	t.Fatalf("thread %q not classified", name)
	return ""
}

func TestProgressActiveOnCPUAdvance(t *testing.T) {
	snaps := snapshotSeries(2, func(i int) []parser.ThreadInfo {
		return []parser.ThreadInfo{
			newThread("busy", parser.StateRunnable, withOSID("0x1"),
				withCPU(float64(100+i*50)), withStack(frame("com.example.A", "run"))),
		}
	})
	res := analyzeOne(t, NewProgressAnalyzer(), snaps...)
	assert.Equal(t, ClassActive, classOf(t, res, "busy"))
	assert.Equal(t, SeverityOK, res.Severity)
}

func TestProgressActiveOnStackChange(t *testing.T) {
	snaps := snapshotSeries(2, func(i int) []parser.ThreadInfo {
		return []parser.ThreadInfo{
			newThread("busy", parser.StateRunnable, withOSID("0x1"), withCPU(10),
				withStack(frame("com.example.A", []string{"first", "second"}[i]))),
		}
	})
	res := analyzeOne(t, NewProgressAnalyzer(), snaps...)
	assert.Equal(t, ClassActive, classOf(t, res, "busy"))
}

func TestProgressRunnableNoProgress(t *testing.T) {
	// Scenario: RUNNABLE across three dumps, identical stack, cpu pinned.
	snaps := snapshotSeries(3, func(i int) []parser.ThreadInfo {
		return []parser.ThreadInfo{
			newThread("stuck", parser.StateRunnable, withOSID("0x7"), withCPU(10),
				withStack(frame("java.net.SocketInputStream", "read"), frame("com.example.Client", "receive"))),
		}
	})
	res := analyzeOne(t, NewProgressAnalyzer(), snaps...)
	assert.Equal(t, ClassRunnableNoProgress, classOf(t, res, "stuck"))
}

func TestProgressBlockedOnLock(t *testing.T) {
	res := analyzeOne(t, NewProgressAnalyzer(), newSnapshot(t0,
		newThread("w", parser.StateBlocked, waitingFor("0xA", "L")),
	))
	assert.Equal(t, ClassBlockedOnLock, classOf(t, res, "w"))
}

func TestProgressExpectedIdleClasses(t *testing.T) {
	res := analyzeOne(t, NewProgressAnalyzer(), newSnapshot(t0,
		newThread("pool-1-thread-3", parser.StateWaiting),
		newThread("metrics-scheduler-1", parser.StateTimedWaiting),
	))
	assert.Equal(t, ClassWaitingExpected, classOf(t, res, "pool-1-thread-3"))
	assert.Equal(t, ClassTimedWaitingExpected, classOf(t, res, "metrics-scheduler-1"))
	assert.Equal(t, SeverityOK, res.Severity)
}

func TestProgressStuck(t *testing.T) {
	snaps := snapshotSeries(3, func(i int) []parser.ThreadInfo {
		return []parser.ThreadInfo{
			newThread("frozen", parser.StateWaiting, withOSID("0x2"),
				withStack(frame("com.example.Latch", "await"))),
		}
	})
	res := analyzeOne(t, NewProgressAnalyzer(), snaps...)
	assert.Equal(t, ClassStuck, classOf(t, res, "frozen"))
}

func TestProgressRestarted(t *testing.T) {
	// Scenario: same OS id, elapsed time dropped between dumps.
	elapsed := []float64{5000, 100}
	snaps := snapshotSeries(2, func(i int) []parser.ThreadInfo {
		return []parser.ThreadInfo{
			newThread("svc", parser.StateRunnable, withOSID("0x7"), withElapsed(elapsed[i])),
		}
	})
	res := analyzeOne(t, NewProgressAnalyzer(), snaps...)
	assert.Equal(t, ClassRestarted, classOf(t, res, "svc"))
}

func TestProgressNewAndTerminated(t *testing.T) {
	snaps := []*parser.ThreadDump{
		newSnapshot(t0, newThread("old", parser.StateRunnable, withOSID("0x1"))),
		newSnapshot(t0, newThread("fresh", parser.StateRunnable, withOSID("0x2"))),
	}
	res := analyzeOne(t, NewProgressAnalyzer(), snaps...)
	assert.Equal(t, ClassNew, classOf(t, res, "fresh"))
	assert.Equal(t, ClassTerminated, classOf(t, res, "old"))
}

func TestProgressIgnored(t *testing.T) {
	opts := DefaultOptions()
	opts.AddIgnorePattern("^noise-")
	ac := NewContext([]*parser.ThreadDump{
		newSnapshot(t0, newThread("noise-1", parser.StateBlocked, waitingFor("0xA", "L"))),
	}, opts, nil)
	res := NewProgressAnalyzer().Analyze(context.Background(), ac)
	assert.Equal(t, ClassIgnored, classOf(t, res, "noise-1"))
	// Ignored threads do not count into the population.
	assert.Equal(t, 0, res.Data.(*ProgressReport).Summary.Total)
}

func TestProgressStallSeverity(t *testing.T) {
	res := analyzeOne(t, NewProgressAnalyzer(), newSnapshot(t0,
		newThread("w1", parser.StateBlocked, waitingFor("0xA", "L")),
		newThread("w2", parser.StateBlocked, waitingFor("0xA", "L")),
	))
	report := res.Data.(*ProgressReport)
	assert.InDelta(t, 100, report.Summary.ProblemPercentage, 0.01)
	assert.True(t, report.Summary.IndicatesStall(90))
	assert.Equal(t, SeverityError, res.Severity)
	require.Len(t, res.FindingsByCategory(CategoryStall), 1)
}

func TestProgressWarningAtThreeProblems(t *testing.T) {
	res := analyzeOne(t, NewProgressAnalyzer(), newSnapshot(t0,
		newThread("w1", parser.StateBlocked, waitingFor("0xA", "L")),
		newThread("w2", parser.StateBlocked, waitingFor("0xA", "L")),
		newThread("w3", parser.StateBlocked, waitingFor("0xA", "L")),
		newThread("a1", parser.StateRunnable),
		newThread("a2", parser.StateRunnable),
		newThread("a3", parser.StateRunnable),
		newThread("a4", parser.StateRunnable),
	))
	assert.Equal(t, SeverityWarning, res.Severity)
}

func TestProgressSingleIssueIsInfo(t *testing.T) {
	res := analyzeOne(t, NewProgressAnalyzer(), newSnapshot(t0,
		newThread("w1", parser.StateBlocked, waitingFor("0xA", "L")),
		newThread("a1", parser.StateRunnable),
		newThread("a2", parser.StateRunnable),
	))
	assert.Equal(t, SeverityInfo, res.Severity)
}
