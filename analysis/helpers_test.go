package analysis

import (
	"time"

	"github.com/Alain-L/threadscope/parser"
)

// Test fixtures are built directly against the model; the parser has its
// own tests. Builders default every absent field the way the parser does.

type threadOpt func(*parser.ThreadInfo)

func newThread(name string, state parser.ThreadState, opts ...threadOpt) parser.ThreadInfo {
	t := parser.ThreadInfo{
		Name:          name,
		RuntimeID:     -1,
		Priority:      -1,
		OSPriority:    -1,
		CPUTimeMs:     -1,
		ElapsedTimeMs: -1,
		State:         state,
		Stack:         []parser.StackFrame{},
		Locks:         []parser.LockInfo{},
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

func withStack(frames ...parser.StackFrame) threadOpt {
	return func(t *parser.ThreadInfo) { t.Stack = frames }
}

func withCPU(ms float64) threadOpt {
	return func(t *parser.ThreadInfo) { t.CPUTimeMs = ms }
}

func withElapsed(ms float64) threadOpt {
	return func(t *parser.ThreadInfo) { t.ElapsedTimeMs = ms }
}

func withOSID(id string) threadOpt {
	return func(t *parser.ThreadInfo) { t.OSID = id }
}

func holding(lockID, typeName string) threadOpt {
	return func(t *parser.ThreadInfo) {
		t.Locks = append(t.Locks, parser.LockInfo{
			Identity: lockID, TypeName: typeName, Relation: parser.RelationLocked,
		})
	}
}

func waitingFor(lockID, typeName string) threadOpt {
	return func(t *parser.ThreadInfo) {
		t.Locks = append(t.Locks, parser.LockInfo{
			Identity: lockID, TypeName: typeName, Relation: parser.RelationWaitingToLock,
		})
		t.WaitingOnLockIdentity = lockID
	}
}

func frame(class, method string) parser.StackFrame {
	return parser.StackFrame{ClassName: class, MethodName: method}
}

func newSnapshot(at time.Time, threads ...parser.ThreadInfo) *parser.ThreadDump {
	return &parser.ThreadDump{
		Timestamp:  at,
		SourceType: parser.SourceStackDump,
		Threads:    threads,
		Deadlocks:  []parser.DeadlockInfo{},
	}
}

var t0 = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// snapshotSeries builds n snapshots 5 seconds apart from a generator.
func snapshotSeries(n int, gen func(i int) []parser.ThreadInfo) []*parser.ThreadDump {
	out := make([]*parser.ThreadDump, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, newSnapshot(t0.Add(time.Duration(i)*5*time.Second), gen(i)...))
	}
	return out
}
