package analysis

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alain-L/threadscope/parser"
)

func TestStackGroupExactGrouping(t *testing.T) {
	shared := withStack(frame("com.example.Q", "take"), frame("com.example.Worker", "run"))
	snap := newSnapshot(t0,
		newThread("w1", parser.StateWaiting, shared),
		newThread("w2", parser.StateWaiting, shared),
		newThread("w3", parser.StateWaiting, shared),
		newThread("solo", parser.StateRunnable, withStack(frame("com.example.Main", "main"))),
	)
	res := analyzeOne(t, NewStackGroupAnalyzer(), snap)
	report := res.Data.(*StackGroupReport)

	// The singleton falls under the minimum group size.
	require.Len(t, report.Groups, 1)
	assert.Equal(t, []string{"w1", "w2", "w3"}, report.Groups[0].Threads)
	assert.Equal(t, "com.example.Q.take", report.Groups[0].Frames[0].Qualified())
}

func TestStackGroupRanking(t *testing.T) {
	big := withStack(frame("com.example.A", "a"))
	small := withStack(frame("com.example.B", "b"))
	snap := newSnapshot(t0,
		newThread("s1", parser.StateWaiting, small),
		newThread("s2", parser.StateWaiting, small),
		newThread("b1", parser.StateWaiting, big),
		newThread("b2", parser.StateWaiting, big),
		newThread("b3", parser.StateWaiting, big),
	)
	res := analyzeOne(t, NewStackGroupAnalyzer(), snap)
	report := res.Data.(*StackGroupReport)
	require.Len(t, report.Groups, 2)
	assert.Len(t, report.Groups[0].Threads, 3)
	assert.Len(t, report.Groups[1].Threads, 2)
}

func TestStackGroupIOConvoyWarning(t *testing.T) {
	ioStack := withStack(frame("java.net.SocketInputStream", "read"), frame("com.example.Client", "call"))
	threads := make([]parser.ThreadInfo, 0, 10)
	for i := 0; i < 10; i++ {
		threads = append(threads, newThread(fmt.Sprintf("conn-%d", i), parser.StateRunnable, ioStack))
	}
	res := analyzeOne(t, NewStackGroupAnalyzer(), newSnapshot(t0, threads...))
	assert.Equal(t, SeverityWarning, res.Severity)
	assert.Len(t, res.FindingsByCategory(CategoryIOConvoy), 1)
}

func TestStackFingerprintDependsOnFrameOrder(t *testing.T) {
	a := []parser.StackFrame{frame("A", "x"), frame("B", "y")}
	b := []parser.StackFrame{frame("B", "y"), frame("A", "x")}
	assert.NotEqual(t, StackFingerprint(a), StackFingerprint(b))
	assert.Equal(t, StackFingerprint(a), StackFingerprint([]parser.StackFrame{frame("A", "x"), frame("B", "y")}))
}

func TestSimilarStackGroups(t *testing.T) {
	snap := newSnapshot(t0,
		newThread("h1", parser.StateWaiting, withStack(
			frame("com.example.Http", "await"), frame("com.example.PathA", "serve"))),
		newThread("h2", parser.StateWaiting, withStack(
			frame("com.example.Http", "await"), frame("com.example.PathB", "serve"))),
		newThread("h3", parser.StateWaiting, withStack(
			frame("com.example.Http", "await"), frame("com.example.PathA", "serve"))),
		newThread("other", parser.StateRunnable, withStack(frame("com.example.Main", "main"))),
	)
	res := analyzeOne(t, NewSimilarStackAnalyzer(), snap)
	report := res.Data.(*SimilarStackReport)
	require.Len(t, report.Groups, 1)
	g := report.Groups[0]
	assert.Equal(t, []string{"h1", "h2", "h3"}, g.Threads)
	assert.Equal(t, 1, g.PrefixLength)
	assert.Equal(t, "com.example.Http.await", g.Prefix[0].Qualified())
}

func TestSimilarStackFullPrefix(t *testing.T) {
	shared := withStack(frame("A", "a"), frame("B", "b"), frame("C", "c"))
	snap := newSnapshot(t0,
		newThread("x", parser.StateWaiting, shared),
		newThread("y", parser.StateWaiting, shared),
	)
	res := analyzeOne(t, NewSimilarStackAnalyzer(), snap)
	report := res.Data.(*SimilarStackReport)
	require.Len(t, report.Groups, 1)
	assert.Equal(t, 3, report.Groups[0].PrefixLength)
}
