package analysis

import (
	"regexp"
	"time"

	"github.com/Alain-L/threadscope/parser"
)

// Thread-name families the runtime owns. Visibility of these is
// controlled by Options.IncludeGC / Options.IncludeVM.
var (
	// gcThreadPattern matches collector worker threads across GC
	// implementations, e.g. "GC Thread#3", "G1 Young RemSet Sampling",
	// "ZGC Worker#0", "Concurrent Mark-Sweep GC Thread".
	gcThreadPattern = regexp.MustCompile(`^(GC Thread#|G1 |ZGC |Parallel GC |Concurrent Mark-Sweep|CMS |Gang worker#)`)

	// vmThreadPattern matches VM-internal service threads,
	// e.g. "VM Thread", "C2 CompilerThread0", "Signal Dispatcher".
	vmThreadPattern = regexp.MustCompile(`^(VM Thread|VM Periodic Task Thread|C[12] CompilerThread|Compiler|Signal Dispatcher|Attach Listener|Service Thread|Sweeper thread|Notification Thread)`)
)

// IsGCThread reports whether the name belongs to a collector thread.
func IsGCThread(name string) bool { return gcThreadPattern.MatchString(name) }

// IsVMThread reports whether the name belongs to a VM service thread.
func IsVMThread(name string) bool { return vmThreadPattern.MatchString(name) }

// SnapshotPair is a pair of consecutive snapshots for diff analyzers.
type SnapshotPair struct {
	Index int // index of Second within the sequence
	First, Second *parser.ThreadDump
}

// Context carries everything an analyzer may consume: the ordered
// snapshot sequence, the options, and the optional profiling summary.
// It is read-only for analyzers.
type Context struct {
	Snapshots []*parser.ThreadDump
	Options   Options
	Profile   ProfileSummary
}

// NewContext builds a context over already-ordered snapshots.
func NewContext(snapshots []*parser.ThreadDump, opts Options, profile ProfileSummary) *Context {
	return &Context{Snapshots: snapshots, Options: opts, Profile: profile}
}

// Timestamp returns the last snapshot's capture time, the anchor stamped
// onto every result. Deriving it from the input (never the wall clock)
// keeps re-runs byte-identical.
func (c *Context) Timestamp() time.Time {
	for i := len(c.Snapshots) - 1; i >= 0; i-- {
		if !c.Snapshots[i].Timestamp.IsZero() {
			return c.Snapshots[i].Timestamp
		}
	}
	return time.Time{}
}

// Visible reports whether the options make the given thread visible to
// analysis. Ignore patterns win over the include flags.
func (c *Context) Visible(t *parser.ThreadInfo) bool {
	if c.Options.Ignored(t.Name) {
		return false
	}
	if t.Daemon && !c.Options.IncludeDaemon {
		return false
	}
	if IsGCThread(t.Name) && !c.Options.IncludeGC {
		return false
	}
	if IsVMThread(t.Name) && !c.Options.IncludeVM {
		return false
	}
	return true
}

// VisibleThreads returns pointers to the visible threads of snapshot i,
// in input order.
func (c *Context) VisibleThreads(i int) []*parser.ThreadInfo {
	snap := c.Snapshots[i]
	out := make([]*parser.ThreadInfo, 0, len(snap.Threads))
	for j := range snap.Threads {
		if c.Visible(&snap.Threads[j]) {
			out = append(out, &snap.Threads[j])
		}
	}
	return out
}

// PairedSnapshots returns the consecutive snapshot pairs, for analyzers
// that diff neighbours. Empty with fewer than two snapshots.
func (c *Context) PairedSnapshots() []SnapshotPair {
	if len(c.Snapshots) < 2 {
		return nil
	}
	pairs := make([]SnapshotPair, 0, len(c.Snapshots)-1)
	for i := 1; i < len(c.Snapshots); i++ {
		pairs = append(pairs, SnapshotPair{Index: i, First: c.Snapshots[i-1], Second: c.Snapshots[i]})
	}
	return pairs
}

// ThreadIdentifier returns the cross-snapshot identity tuple for a thread.
func (c *Context) ThreadIdentifier(t *parser.ThreadInfo) string {
	return t.Identity()
}

// threadsByIdentity indexes the visible threads of snapshot i by identity.
// Duplicate identities keep the first occurrence, matching input order.
func (c *Context) threadsByIdentity(i int) map[string]*parser.ThreadInfo {
	out := make(map[string]*parser.ThreadInfo)
	for _, t := range c.VisibleThreads(i) {
		id := t.Identity()
		if _, ok := out[id]; !ok {
			out[id] = t
		}
	}
	return out
}
