// Package parser provides types and parsing for JVM thread-dump text.
package parser

import (
	"strconv"
	"time"
)

// SourceType identifies the textual dialect a dump was produced in.
type SourceType string

const (
	// SourceStackDump is the compact jstack output format.
	SourceStackDump SourceType = "stackdump"

	// SourceDiagCmd is the verbose jcmd Thread.print output format.
	SourceDiagCmd SourceType = "diagcmd"

	// SourceUnknown is used when no recognizable banner was found.
	SourceUnknown SourceType = "unknown"
)

// ThreadState is the JVM-reported state of a thread.
// The empty string means the dump did not report a state.
type ThreadState string

const (
	StateNew          ThreadState = "NEW"
	StateRunnable     ThreadState = "RUNNABLE"
	StateBlocked      ThreadState = "BLOCKED"
	StateWaiting      ThreadState = "WAITING"
	StateTimedWaiting ThreadState = "TIMED_WAITING"
	StateTerminated   ThreadState = "TERMINATED"
)

// LockRelation describes how a thread relates to a lock object.
type LockRelation string

const (
	// RelationLocked means the thread owns the lock.
	RelationLocked LockRelation = "LOCKED"

	// RelationWaitingOn means the thread is inside Object.wait() on the lock.
	RelationWaitingOn LockRelation = "WAITING_ON"

	// RelationWaitingToLock means the thread is blocked trying to enter
	// a monitor owned by another thread.
	RelationWaitingToLock LockRelation = "WAITING_TO_LOCK"

	// RelationParkingToWait means the thread is parked on a
	// j.u.c synchronizer.
	RelationParkingToWait LockRelation = "PARKING_TO_WAIT"

	// RelationEliminated means the JVM elided the lock (escape analysis).
	RelationEliminated LockRelation = "ELIMINATED"
)

// StackFrame is a single frame of a thread's stack.
// Frames are value objects: identity is equality on all fields.
type StackFrame struct {
	// ClassName is the fully qualified class, e.g. "java.net.SocketInputStream".
	ClassName string `json:"class" yaml:"class"`

	// MethodName is the method within ClassName, e.g. "read".
	MethodName string `json:"method" yaml:"method"`

	// FileName is the source file when known, e.g. "SocketInputStream.java".
	FileName string `json:"file,omitempty" yaml:"file,omitempty"`

	// LineNumber is the source line when known, 0 otherwise.
	LineNumber int `json:"line,omitempty" yaml:"line,omitempty"`

	// Native is true for foreign (JNI) frames, i.e. "(Native Method)".
	Native bool `json:"native,omitempty" yaml:"native,omitempty"`
}

// Qualified returns the frame's "class.method" form.
func (f StackFrame) Qualified() string {
	if f.ClassName == "" {
		return f.MethodName
	}
	return f.ClassName + "." + f.MethodName
}

// LockInfo is one lock annotation attached to a thread's stack.
type LockInfo struct {
	// Identity is the textual address of the lock object, e.g.
	// "0x000000076ab3db58". May be empty (eliminated locks,
	// "<no object reference available>").
	Identity string `json:"identity,omitempty" yaml:"identity,omitempty"`

	// TypeName is the class of the lock object, e.g. "java.lang.Object".
	TypeName string `json:"type,omitempty" yaml:"type,omitempty"`

	// Relation is how the owning thread relates to this lock.
	Relation LockRelation `json:"relation" yaml:"relation"`
}

// ThreadInfo is one thread of a snapshot. Built once by the parser and
// treated as read-only by every analyzer.
//
// Numeric fields use -1 to mean "not present in the dump"; string fields
// use the empty string.
type ThreadInfo struct {
	// Name is the thread name as quoted in the dump header.
	Name string `json:"name" yaml:"name"`

	// RuntimeID is the JVM-assigned "#N" thread number, -1 when absent.
	RuntimeID int64 `json:"runtime_id" yaml:"runtime_id"`

	// OSID is the native thread id ("nid=0x..."), empty when absent.
	// Kept as the raw hex string; dumps disagree about width and casing.
	OSID string `json:"os_id,omitempty" yaml:"os_id,omitempty"`

	// Address is the VM-internal thread address ("tid=0x...").
	Address string `json:"address,omitempty" yaml:"address,omitempty"`

	// Priority is the JVM priority ("prio="), -1 when absent.
	Priority int `json:"priority" yaml:"priority"`

	// OSPriority is the OS priority ("os_prio="), -1 when absent.
	OSPriority int `json:"os_priority" yaml:"os_priority"`

	// Daemon is true when the header carries the "daemon" token.
	Daemon bool `json:"daemon" yaml:"daemon"`

	// State is the java.lang.Thread.State, empty when not reported.
	State ThreadState `json:"state,omitempty" yaml:"state,omitempty"`

	// CPUTimeMs is accumulated CPU time in milliseconds ("cpu="),
	// -1 when absent.
	CPUTimeMs float64 `json:"cpu_time_ms" yaml:"cpu_time_ms"`

	// ElapsedTimeMs is time since thread start in milliseconds
	// ("elapsed="), -1 when absent.
	ElapsedTimeMs float64 `json:"elapsed_time_ms" yaml:"elapsed_time_ms"`

	// Stack holds the frames, deepest (top of stack) first.
	Stack []StackFrame `json:"stack" yaml:"stack"`

	// Locks holds the lock annotations in dump order.
	Locks []LockInfo `json:"locks" yaml:"locks"`

	// WaitingOnLockIdentity is the address of the monitor this thread is
	// blocked trying to acquire, empty when not blocked on a lock.
	WaitingOnLockIdentity string `json:"waiting_on_lock,omitempty" yaml:"waiting_on_lock,omitempty"`

	// Extra is the free-form state descriptor from the header line,
	// e.g. "waiting for monitor entry".
	Extra string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Identity returns the stable cross-snapshot handle for the thread:
// the OS id when present, else the runtime id, else the name.
func (t *ThreadInfo) Identity() string {
	if t.OSID != "" {
		return "nid:" + t.OSID
	}
	if t.RuntimeID >= 0 {
		return "rid:" + strconv.FormatInt(t.RuntimeID, 10)
	}
	return "name:" + t.Name
}

// HexEquals reports whether two threads agree on every field except the
// volatile address-derived ones (RuntimeID, OSID, Address,
// WaitingOnLockIdentity and per-lock identities). Addresses churn between
// dumps of the same process, so dump-to-dump comparisons must ignore them.
func (t *ThreadInfo) HexEquals(o *ThreadInfo) bool {
	if t.Name != o.Name ||
		t.Priority != o.Priority ||
		t.OSPriority != o.OSPriority ||
		t.Daemon != o.Daemon ||
		t.State != o.State ||
		t.CPUTimeMs != o.CPUTimeMs ||
		t.ElapsedTimeMs != o.ElapsedTimeMs ||
		t.Extra != o.Extra {
		return false
	}
	if !SameStack(t.Stack, o.Stack) {
		return false
	}
	if len(t.Locks) != len(o.Locks) {
		return false
	}
	for i := range t.Locks {
		if t.Locks[i].TypeName != o.Locks[i].TypeName ||
			t.Locks[i].Relation != o.Locks[i].Relation {
			return false
		}
	}
	return true
}

// SameStack reports frame-by-frame equality of two stacks.
func SameStack(a, b []StackFrame) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DeadlockedThread is one participant of a JVM-reported deadlock.
type DeadlockedThread struct {
	// Name is the participant thread's name.
	Name string `json:"name" yaml:"name"`

	// WaitingForMonitor is the monitor address the thread waits for.
	WaitingForMonitor string `json:"waiting_for_monitor,omitempty" yaml:"waiting_for_monitor,omitempty"`

	// WaitingForObject is the address of the contended object.
	WaitingForObject string `json:"waiting_for_object,omitempty" yaml:"waiting_for_object,omitempty"`

	// WaitingForObjectType is the class of the contended object.
	WaitingForObjectType string `json:"waiting_for_object_type,omitempty" yaml:"waiting_for_object_type,omitempty"`

	// HeldBy is the name of the thread holding the contended resource.
	HeldBy string `json:"held_by,omitempty" yaml:"held_by,omitempty"`

	// Stack is the participant's stack from the "Java stack information"
	// section, deepest frame first. Empty when the section is absent.
	Stack []StackFrame `json:"stack,omitempty" yaml:"stack,omitempty"`

	// Locks holds the participant's lock annotations from the same section.
	Locks []LockInfo `json:"locks,omitempty" yaml:"locks,omitempty"`
}

// DeadlockInfo is one deadlock as reported by the JVM's own detector.
type DeadlockInfo struct {
	Threads []DeadlockedThread `json:"threads" yaml:"threads"`
}

// JniInfo carries the JNI reference counters from the dump footer.
// Fields are -1 when the dump did not report them.
type JniInfo struct {
	GlobalRefs      int64 `json:"global_refs" yaml:"global_refs"`
	WeakRefs        int64 `json:"weak_refs" yaml:"weak_refs"`
	GlobalRefsBytes int64 `json:"global_refs_bytes" yaml:"global_refs_bytes"`
	WeakRefsBytes   int64 `json:"weak_refs_bytes" yaml:"weak_refs_bytes"`
}

// ThreadDump is one parsed snapshot. The parser builds it in full and
// nothing mutates it afterwards.
type ThreadDump struct {
	// Timestamp is the capture time from the dump preamble, zero when absent.
	Timestamp time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`

	// Banner is the "Full thread dump ..." runtime identification line.
	Banner string `json:"banner,omitempty" yaml:"banner,omitempty"`

	// SourceType records which dialect the dump was recognized as.
	SourceType SourceType `json:"source_type" yaml:"source_type"`

	// Threads holds all threads in input order.
	Threads []ThreadInfo `json:"threads" yaml:"threads"`

	// Deadlocks holds the JVM-reported deadlock sections, if any.
	Deadlocks []DeadlockInfo `json:"deadlocks" yaml:"deadlocks"`

	// JNI holds the JNI reference counters, nil when the footer is absent.
	JNI *JniInfo `json:"jni,omitempty" yaml:"jni,omitempty"`
}

// HexEquals reports whether two snapshots are equal modulo volatile
// addresses: same dialect, same deadlock count, and pairwise hex-equal
// threads in the same order.
func (d *ThreadDump) HexEquals(o *ThreadDump) bool {
	if d.SourceType != o.SourceType || len(d.Threads) != len(o.Threads) ||
		len(d.Deadlocks) != len(o.Deadlocks) {
		return false
	}
	for i := range d.Threads {
		if !d.Threads[i].HexEquals(&o.Threads[i]) {
			return false
		}
	}
	return true
}

// ThreadByName returns the first thread with the given name, or nil.
func (d *ThreadDump) ThreadByName(name string) *ThreadInfo {
	for i := range d.Threads {
		if d.Threads[i].Name == name {
			return &d.Threads[i]
		}
	}
	return nil
}
