package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alain-L/threadscope/parser"
)

func TestVisibleThreadsFiltering(t *testing.T) {
	daemon := newThread("d", parser.StateRunnable)
	daemon.Daemon = true
	snap := newSnapshot(t0,
		newThread("main", parser.StateRunnable),
		daemon,
		newThread("GC Thread#0", parser.StateRunnable),
		newThread("VM Thread", parser.StateRunnable),
		newThread("noisy-1", parser.StateRunnable),
	)

	opts := DefaultOptions()
	opts.AddIgnorePattern("^noisy-")
	ac := NewContext([]*parser.ThreadDump{snap}, opts, nil)

	var names []string
	for _, th := range ac.VisibleThreads(0) {
		names = append(names, th.Name)
	}
	assert.Equal(t, []string{"main", "d"}, names)

	opts.IncludeGC = true
	opts.IncludeVM = true
	opts.IncludeDaemon = false
	ac = NewContext([]*parser.ThreadDump{snap}, opts, nil)
	names = nil
	for _, th := range ac.VisibleThreads(0) {
		names = append(names, th.Name)
	}
	assert.Equal(t, []string{"main", "GC Thread#0", "VM Thread"}, names)
}

func TestContextTimestampFromLastStampedSnapshot(t *testing.T) {
	withTS := newSnapshot(t0.Add(10*time.Second), newThread("a", parser.StateRunnable))
	without := newSnapshot(time.Time{}, newThread("a", parser.StateRunnable))
	ac := NewContext([]*parser.ThreadDump{withTS, without}, DefaultOptions(), nil)
	assert.Equal(t, t0.Add(10*time.Second), ac.Timestamp())
}

func TestPairedSnapshots(t *testing.T) {
	snaps := snapshotSeries(3, func(i int) []parser.ThreadInfo { return nil })
	ac := NewContext(snaps, DefaultOptions(), nil)
	pairs := ac.PairedSnapshots()
	require.Len(t, pairs, 2)
	assert.Equal(t, 1, pairs[0].Index)
	assert.Same(t, snaps[0], pairs[0].First)
	assert.Same(t, snaps[2], pairs[1].Second)

	assert.Nil(t, NewContext(snaps[:1], DefaultOptions(), nil).PairedSnapshots())
}

func TestVMThreadPattern(t *testing.T) {
	assert.True(t, IsVMThread("VM Thread"))
	assert.True(t, IsVMThread("C2 CompilerThread0"))
	assert.True(t, IsVMThread("Signal Dispatcher"))
	assert.False(t, IsVMThread("main"))
}
