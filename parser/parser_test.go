package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDump = `2024-01-15 10:00:03
Full thread dump OpenJDK 64-Bit Server VM (17.0.2+8 mixed mode, sharing):

"main" #1 prio=5 os_prio=0 cpu=125.32ms elapsed=2.95s tid=0x00007f3b2c028000 nid=0x2f03 runnable  [0x00007f3b33ffe000]
   java.lang.Thread.State: RUNNABLE
	at java.net.SocketInputStream.socketRead0(java.base@17.0.2/Native Method)
	at java.net.SocketInputStream.read(SocketInputStream.java:168)
	at com.example.Client.receive(Client.java:42)
	- locked <0x000000076ab3db58> (a java.lang.Object)

"worker-1" #12 daemon prio=5 os_prio=0 cpu=10ms elapsed=2.9s tid=0x00007f3b2c151000 nid=0x2f11 waiting for monitor entry  [0x00007f3b18bfd000]
   java.lang.Thread.State: BLOCKED (on object monitor)
	at com.example.Worker.process(Worker.java:77)
	- waiting to lock <0x000000076ab3db58> (a java.lang.Object)
	at com.example.Worker.run(Worker.java:31)

"Reference Handler" #2 daemon prio=10 os_prio=0 cpu=0.44ms elapsed=2.94s tid=0x00007f3b2c102800 nid=0x2f09 waiting on condition  [0x00007f3b31afd000]
   java.lang.Thread.State: RUNNABLE
	at java.lang.ref.Reference.waitForReferencePendingList(java.base@17.0.2/Native Method)

JNI global refs: 15, weak refs: 0
`

func TestParseDumpBasic(t *testing.T) {
	d := ParseDump([]byte(sampleDump))

	assert.Equal(t, SourceStackDump, d.SourceType)
	assert.Equal(t, "Full thread dump OpenJDK 64-Bit Server VM (17.0.2+8 mixed mode, sharing):", d.Banner)
	assert.Equal(t, 2024, d.Timestamp.Year())
	require.Len(t, d.Threads, 3)

	main := d.Threads[0]
	assert.Equal(t, "main", main.Name)
	assert.Equal(t, int64(1), main.RuntimeID)
	assert.Equal(t, "0x2f03", main.OSID)
	assert.Equal(t, 5, main.Priority)
	assert.False(t, main.Daemon)
	assert.Equal(t, StateRunnable, main.State)
	assert.InDelta(t, 125.32, main.CPUTimeMs, 0.001)
	assert.InDelta(t, 2950, main.ElapsedTimeMs, 0.001)
	require.Len(t, main.Stack, 3)
	assert.Equal(t, "java.net.SocketInputStream", main.Stack[0].ClassName)
	assert.Equal(t, "socketRead0", main.Stack[0].MethodName)
	assert.True(t, main.Stack[0].Native)
	assert.Equal(t, "SocketInputStream.java", main.Stack[1].FileName)
	assert.Equal(t, 168, main.Stack[1].LineNumber)
	require.Len(t, main.Locks, 1)
	assert.Equal(t, RelationLocked, main.Locks[0].Relation)
	assert.Equal(t, "0x000000076ab3db58", main.Locks[0].Identity)
	assert.Equal(t, "java.lang.Object", main.Locks[0].TypeName)
	assert.Empty(t, main.WaitingOnLockIdentity)

	worker := d.Threads[1]
	assert.True(t, worker.Daemon)
	assert.Equal(t, StateBlocked, worker.State)
	assert.Equal(t, "0x000000076ab3db58", worker.WaitingOnLockIdentity)
	require.Len(t, worker.Locks, 1)
	assert.Equal(t, RelationWaitingToLock, worker.Locks[0].Relation)

	require.NotNil(t, d.JNI)
	assert.Equal(t, int64(15), d.JNI.GlobalRefs)
	assert.Equal(t, int64(0), d.JNI.WeakRefs)
	assert.Equal(t, int64(-1), d.JNI.GlobalRefsBytes)
}

func TestParseDumpEmptyInput(t *testing.T) {
	for _, input := range []string{"", "\n\n", "not a dump at all\ngarbage"} {
		d := ParseDump([]byte(input))
		require.NotNil(t, d)
		assert.Empty(t, d.Threads)
		assert.Equal(t, SourceUnknown, d.SourceType)
	}
}

func TestParseDumpIdempotent(t *testing.T) {
	a := ParseDump([]byte(sampleDump))
	b := ParseDump([]byte(sampleDump))
	assert.True(t, a.HexEquals(b))
}

func TestParseDumpCRLF(t *testing.T) {
	crlf := strings.ReplaceAll(sampleDump, "\n", "\r\n")
	d := ParseDump([]byte(crlf))
	require.Len(t, d.Threads, 3)
	assert.Equal(t, "main", d.Threads[0].Name)
	assert.True(t, d.HexEquals(ParseDump([]byte(sampleDump))))
}

func TestParseDumpInvalidUTF8(t *testing.T) {
	bad := append([]byte(`"t`), 0xff, 0xfe)
	bad = append(bad, []byte("1\" #1 prio=5 runnable\n")...)
	d := ParseDump(bad)
	require.Len(t, d.Threads, 1)
	assert.Contains(t, d.Threads[0].Name, "�")
}

func TestParseDumpDiagCmdDialect(t *testing.T) {
	text := "12345:\n2024-01-15 10:00:03\nFull thread dump OpenJDK 64-Bit Server VM (17.0.2+8 mixed mode):\n\n" +
		"Threads class SMR info:\n_java_thread_list=0x00007f3b2c0f5aa0, length=2, elements={\n0x00007f3b2c028000, 0x00007f3b2c151000\n}\n\n" +
		"\"main\" #1 prio=5 os_prio=0 cpu=1ms elapsed=1s tid=0x00007f3b2c028000 nid=0x2f03 runnable\n"
	d := ParseDump([]byte(text))
	assert.Equal(t, SourceDiagCmd, d.SourceType)
	require.Len(t, d.Threads, 1)
}

func TestParseThreadHeaderTolerance(t *testing.T) {
	tests := []struct {
		name string
		line string
		want func(t *testing.T, th ThreadInfo)
	}{
		{
			name: "name only",
			line: `"just a name"`,
			want: func(t *testing.T, th ThreadInfo) {
				assert.Equal(t, "just a name", th.Name)
				assert.Equal(t, int64(-1), th.RuntimeID)
				assert.Equal(t, -1, th.Priority)
				assert.Equal(t, float64(-1), th.CPUTimeMs)
			},
		},
		{
			name: "reordered tokens",
			line: `"t" nid=0xab tid=0x1 daemon #9 os_prio=0 prio=5 runnable`,
			want: func(t *testing.T, th ThreadInfo) {
				assert.Equal(t, "0xab", th.OSID)
				assert.True(t, th.Daemon)
				assert.Equal(t, int64(9), th.RuntimeID)
				assert.Equal(t, StateRunnable, th.State)
			},
		},
		{
			name: "vm thread without runtime id",
			line: `"VM Thread" os_prio=0 cpu=23.89ms elapsed=2.94s tid=0x00007f3b2c0f0220 nid=0x2f08 runnable`,
			want: func(t *testing.T, th ThreadInfo) {
				assert.Equal(t, "VM Thread", th.Name)
				assert.Equal(t, int64(-1), th.RuntimeID)
				assert.Equal(t, StateRunnable, th.State)
			},
		},
		{
			name: "descriptor preserved",
			line: `"w" #3 prio=5 nid=0x10 waiting for monitor entry`,
			want: func(t *testing.T, th ThreadInfo) {
				assert.Equal(t, "waiting for monitor entry", th.Extra)
				assert.Equal(t, StateBlocked, th.State)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			th, ok := parseThreadHeader(tc.line)
			require.True(t, ok)
			tc.want(t, th)
		})
	}
}

func TestParseThreadHeaderUnclosedQuote(t *testing.T) {
	_, ok := parseThreadHeader(`"broken name #1 prio=5`)
	assert.False(t, ok)
}

func TestMalformedHeaderSkipsToBlankLine(t *testing.T) {
	text := "Full thread dump Test VM:\n\n" +
		"\"broken header without closing quote\n" +
		"\tat should.not.be.Attached(Any.java:1)\n" +
		"\n" +
		"\"ok\" #2 prio=5 nid=0x2 runnable\n" +
		"\tat com.example.A.run(A.java:1)\n"
	d := ParseDump([]byte(text))
	require.Len(t, d.Threads, 1)
	assert.Equal(t, "ok", d.Threads[0].Name)
	assert.Len(t, d.Threads[0].Stack, 1)
}

func TestParseFrameVariants(t *testing.T) {
	tests := []struct {
		line string
		want StackFrame
	}{
		{
			line: "at com.example.Foo.bar(Foo.java:12)",
			want: StackFrame{ClassName: "com.example.Foo", MethodName: "bar", FileName: "Foo.java", LineNumber: 12},
		},
		{
			line: "at com.example.Foo.bar(Native Method)",
			want: StackFrame{ClassName: "com.example.Foo", MethodName: "bar", Native: true},
		},
		{
			line: "at com.example.Foo.bar(Unknown Source)",
			want: StackFrame{ClassName: "com.example.Foo", MethodName: "bar"},
		},
		{
			line: "at com.example.Foo.bar(Foo.java)",
			want: StackFrame{ClassName: "com.example.Foo", MethodName: "bar", FileName: "Foo.java"},
		},
		{
			line: "at java.lang.Thread.sleep(java.base@17.0.2/Native Method)",
			want: StackFrame{ClassName: "java.lang.Thread", MethodName: "sleep", Native: true},
		},
		{
			line: "at jdk.internal.misc.Unsafe.park(java.base@17.0.2/Unknown Source)",
			want: StackFrame{ClassName: "jdk.internal.misc.Unsafe", MethodName: "park"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			f, ok := parseFrame(tc.line)
			require.True(t, ok)
			assert.Equal(t, tc.want, f)
		})
	}
}

func TestParseStateLine(t *testing.T) {
	assert.Equal(t, StateTimedWaiting, parseStateLine("java.lang.Thread.State: TIMED_WAITING (sleeping)"))
	assert.Equal(t, StateBlocked, parseStateLine("java.lang.Thread.State: BLOCKED (on object monitor)"))
	assert.Equal(t, ThreadState(""), parseStateLine("java.lang.Thread.State: SOMETHING_ELSE"))
}

func TestLockAnnotationRelations(t *testing.T) {
	text := "Full thread dump Test VM:\n\n" +
		"\"t\" #1 prio=5 nid=0x1 waiting on condition\n" +
		"   java.lang.Thread.State: WAITING (parking)\n" +
		"\tat jdk.internal.misc.Unsafe.park(java.base@17.0.2/Native Method)\n" +
		"\t- parking to wait for  <0x000000076b021f58> (a java.util.concurrent.locks.AbstractQueuedSynchronizer$ConditionObject)\n" +
		"\t- waiting on <0x000000076b021f60> (a java.lang.Object)\n" +
		"\t- eliminated <owner is scalar replaced object> (a java.lang.StringBuilder)\n" +
		"\t- waiting on <no object reference available>\n"
	d := ParseDump([]byte(text))
	require.Len(t, d.Threads, 1)
	locks := d.Threads[0].Locks
	require.Len(t, locks, 4)
	assert.Equal(t, RelationParkingToWait, locks[0].Relation)
	assert.Equal(t, "0x000000076b021f58", locks[0].Identity)
	assert.Equal(t, RelationWaitingOn, locks[1].Relation)
	assert.Equal(t, RelationEliminated, locks[2].Relation)
	assert.Empty(t, locks[2].Identity)
	assert.Equal(t, "java.lang.StringBuilder", locks[2].TypeName)
	assert.Equal(t, RelationWaitingOn, locks[3].Relation)
	assert.Empty(t, locks[3].Identity)
	// parking/waiting-on do not mark the thread as blocked on a monitor
	assert.Empty(t, d.Threads[0].WaitingOnLockIdentity)
}

const deadlockDump = `Full thread dump OpenJDK 64-Bit Server VM (17.0.2+8 mixed mode):

"Thread-1" #14 prio=5 os_prio=0 cpu=1ms elapsed=10s tid=0x00007f1 nid=0xa1 waiting for monitor entry  [0x0001]
   java.lang.Thread.State: BLOCKED (on object monitor)
	at com.example.Deadlock$1.run(Deadlock.java:20)
	- waiting to lock <0x000000076ab3daa8> (a java.lang.Object)
	- locked <0x000000076ab3dab8> (a java.lang.Object)

"Thread-2" #15 prio=5 os_prio=0 cpu=1ms elapsed=10s tid=0x00007f2 nid=0xa2 waiting for monitor entry  [0x0002]
   java.lang.Thread.State: BLOCKED (on object monitor)
	at com.example.Deadlock$2.run(Deadlock.java:34)
	- waiting to lock <0x000000076ab3dab8> (a java.lang.Object)
	- locked <0x000000076ab3daa8> (a java.lang.Object)

Found one Java-level deadlock:
=============================
"Thread-1":
  waiting to lock monitor 0x00007f7c8c006380 (object 0x000000076ab3daa8, a java.lang.Object),
  which is held by "Thread-2"
"Thread-2":
  waiting to lock monitor 0x00007f7c8c003828 (object 0x000000076ab3dab8, a java.lang.Object),
  which is held by "Thread-1"

Java stack information for the threads listed above:
===================================================
"Thread-1":
	at com.example.Deadlock$1.run(Deadlock.java:20)
	- waiting to lock <0x000000076ab3daa8> (a java.lang.Object)
	- locked <0x000000076ab3dab8> (a java.lang.Object)
"Thread-2":
	at com.example.Deadlock$2.run(Deadlock.java:34)
	- waiting to lock <0x000000076ab3dab8> (a java.lang.Object)
	- locked <0x000000076ab3daa8> (a java.lang.Object)

Found 1 deadlock.
`

func TestParseDeadlockSection(t *testing.T) {
	d := ParseDump([]byte(deadlockDump))
	require.Len(t, d.Threads, 2)
	require.Len(t, d.Deadlocks, 1)

	dl := d.Deadlocks[0]
	require.Len(t, dl.Threads, 2)

	t1 := dl.Threads[0]
	assert.Equal(t, "Thread-1", t1.Name)
	assert.Equal(t, "0x00007f7c8c006380", t1.WaitingForMonitor)
	assert.Equal(t, "0x000000076ab3daa8", t1.WaitingForObject)
	assert.Equal(t, "java.lang.Object", t1.WaitingForObjectType)
	assert.Equal(t, "Thread-2", t1.HeldBy)
	require.Len(t, t1.Stack, 1)
	assert.Equal(t, "run", t1.Stack[0].MethodName)
	assert.Len(t, t1.Locks, 2)

	assert.Equal(t, "Thread-1", dl.Threads[1].HeldBy)
}

func TestParseJNILineWithBytes(t *testing.T) {
	info := parseJNILine("JNI global refs: 20, global refs memory usage: 800, weak refs: 3, weak refs memory usage: 160")
	assert.Equal(t, int64(20), info.GlobalRefs)
	assert.Equal(t, int64(800), info.GlobalRefsBytes)
	assert.Equal(t, int64(3), info.WeakRefs)
	assert.Equal(t, int64(160), info.WeakRefsBytes)
}
