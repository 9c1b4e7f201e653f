package parser

import (
	"strconv"
	"strings"
	"time"
)

// Recognized dump shapes:
//
//	2024-01-15 10:00:03
//	Full thread dump OpenJDK 64-Bit Server VM (17.0.2+8 mixed mode, sharing):
//
//	"main" #1 prio=5 os_prio=0 cpu=125.32ms elapsed=2.95s tid=0x00007f3b2c028000 nid=0x2f03 runnable  [0x00007f3b33ffe000]
//	   java.lang.Thread.State: RUNNABLE
//		at java.net.SocketInputStream.socketRead0(java.base@17.0.2/Native Method)
//		at java.net.SocketInputStream.read(SocketInputStream.java:168)
//		- locked <0x000000076ab3db58> (a java.lang.Object)
//		- waiting to lock <0x000000076ab3db68> (a java.lang.Object)
//
// jcmd Thread.print output carries the same thread blocks but starts with
// the target PID on its own line and includes a "Threads class SMR info"
// section; that difference is what dialect detection keys on.

// timestampLayouts are the preamble timestamp formats emitted by the
// stack-dump and diagnostic-command tools.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05.000",
}

// ParseDump parses one thread-dump text into a snapshot.
//
// The parser is lenient: it extracts whatever it can recognize and never
// fails. Empty or unrecognizable input yields a snapshot with zero threads
// and SourceType "unknown". Invalid UTF-8 is replaced with U+FFFD. It is a
// pure function: the same bytes always produce the same snapshot, and no
// I/O happens here.
func ParseDump(data []byte) *ThreadDump {
	text := strings.ToValidUTF8(string(data), "�")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}

	d := &ThreadDump{
		SourceType: SourceUnknown,
		Threads:    []ThreadInfo{},
		Deadlocks:  []DeadlockInfo{},
	}

	var cur *ThreadInfo
	sawPIDLine := false
	sawSMRInfo := false
	inPreamble := true

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			// Blank lines end the current thread block.
			cur = nil

		case strings.HasPrefix(line, "\""):
			inPreamble = false
			th, ok := parseThreadHeader(line)
			if !ok {
				// Malformed header mid-dump: skip to the next blank line.
				cur = nil
				for i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" {
					i++
				}
				continue
			}
			d.Threads = append(d.Threads, th)
			cur = &d.Threads[len(d.Threads)-1]

		case strings.HasPrefix(trimmed, "Full thread dump"):
			inPreamble = false
			d.Banner = trimmed

		case isDeadlockHeader(trimmed):
			cur = nil
			i = parseDeadlockSection(lines, i, d)

		case strings.HasPrefix(trimmed, "JNI global refs:") ||
			strings.HasPrefix(trimmed, "JNI global references:"):
			d.JNI = parseJNILine(trimmed)

		case strings.HasPrefix(trimmed, "Threads class SMR info"):
			sawSMRInfo = true
			cur = nil
			// Skip the SMR element list.
			for i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" {
				i++
			}

		case cur != nil && strings.HasPrefix(trimmed, "java.lang.Thread.State:"):
			cur.State = parseStateLine(trimmed)

		case cur != nil && strings.HasPrefix(trimmed, "at "):
			if f, ok := parseFrame(trimmed); ok {
				cur.Stack = append(cur.Stack, f)
			}

		case cur != nil && strings.HasPrefix(trimmed, "- "):
			parseLockLine(trimmed[2:], cur)

		case inPreamble:
			if isAllDigits(trimmed) || strings.HasSuffix(trimmed, ":") && isAllDigits(strings.TrimSuffix(trimmed, ":")) {
				sawPIDLine = true
				continue
			}
			if d.Timestamp.IsZero() {
				for _, layout := range timestampLayouts {
					if ts, err := time.Parse(layout, trimmed); err == nil {
						d.Timestamp = ts
						break
					}
				}
			}
		}
	}

	if d.Banner != "" {
		if sawPIDLine || sawSMRInfo {
			d.SourceType = SourceDiagCmd
		} else {
			d.SourceType = SourceStackDump
		}
	}
	return d
}

// parseThreadHeader parses a line of the form
//
//	"<name>" #<rid> daemon prio=<n> os_prio=<n> cpu=<d> elapsed=<d> tid=<hex> nid=<hex> <descriptor> [<sp>]
//
// Tokens may be missing or reordered; only the quoted name is required.
func parseThreadHeader(line string) (ThreadInfo, bool) {
	end := strings.Index(line[1:], "\"")
	if end < 0 {
		return ThreadInfo{}, false
	}
	th := ThreadInfo{
		Name:          line[1 : 1+end],
		RuntimeID:     -1,
		Priority:      -1,
		OSPriority:    -1,
		CPUTimeMs:     -1,
		ElapsedTimeMs: -1,
		Stack:         []StackFrame{},
		Locks:         []LockInfo{},
	}

	var extra []string
	for _, tok := range strings.Fields(line[2+end:]) {
		switch {
		case tok == "daemon":
			th.Daemon = true
		case strings.HasPrefix(tok, "#"):
			if v, err := strconv.ParseInt(tok[1:], 10, 64); err == nil {
				th.RuntimeID = v
			}
		case strings.HasPrefix(tok, "prio="):
			if v, err := strconv.Atoi(tok[5:]); err == nil {
				th.Priority = v
			}
		case strings.HasPrefix(tok, "os_prio="):
			if v, err := strconv.Atoi(tok[8:]); err == nil {
				th.OSPriority = v
			}
		case strings.HasPrefix(tok, "cpu="):
			th.CPUTimeMs = parseDurationMs(tok[4:])
		case strings.HasPrefix(tok, "elapsed="):
			th.ElapsedTimeMs = parseDurationMs(tok[8:])
		case strings.HasPrefix(tok, "tid="):
			th.Address = tok[4:]
		case strings.HasPrefix(tok, "nid="):
			th.OSID = tok[4:]
		case strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]"):
			// Stack pointer range; carries no information we keep.
		default:
			extra = append(extra, tok)
		}
	}
	th.Extra = strings.Join(extra, " ")
	th.State = stateFromDescriptor(th.Extra)
	return th, true
}

// stateFromDescriptor maps the header's free-form descriptor to a state
// for threads that carry no java.lang.Thread.State line (VM-internal
// threads mostly). The explicit state line always overrides this.
func stateFromDescriptor(desc string) ThreadState {
	switch {
	case strings.Contains(desc, "runnable"):
		return StateRunnable
	case strings.Contains(desc, "waiting for monitor entry"):
		return StateBlocked
	case strings.Contains(desc, "in Object.wait"):
		return StateWaiting
	case strings.Contains(desc, "sleeping"):
		return StateTimedWaiting
	default:
		return ""
	}
}

// parseStateLine extracts the state from "java.lang.Thread.State: BLOCKED
// (on object monitor)". Unknown state words leave the state absent.
func parseStateLine(line string) ThreadState {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "java.lang.Thread.State:"))
	word := rest
	if idx := strings.IndexByte(rest, ' '); idx >= 0 {
		word = rest[:idx]
	}
	switch ThreadState(word) {
	case StateNew, StateRunnable, StateBlocked, StateWaiting,
		StateTimedWaiting, StateTerminated:
		return ThreadState(word)
	}
	return ""
}

// parseFrame parses "at <class>.<method>(<location>)" lines.
// Recognized locations: "<file>:<line>", "<file>", "Native Method",
// "Unknown Source", each optionally prefixed by a module tag like
// "java.base@17.0.2/".
func parseFrame(line string) (StackFrame, bool) {
	rest := strings.TrimSpace(line[len("at "):])
	if rest == "" {
		return StackFrame{}, false
	}

	open := strings.LastIndexByte(rest, '(')
	qualified := rest
	loc := ""
	if open >= 0 {
		qualified = rest[:open]
		loc = rest[open+1:]
		loc = strings.TrimSuffix(loc, ")")
	}

	var f StackFrame
	if dot := strings.LastIndexByte(qualified, '.'); dot >= 0 {
		f.ClassName = qualified[:dot]
		f.MethodName = qualified[dot+1:]
	} else {
		f.MethodName = qualified
	}

	// Drop a "java.base@17.0.2/" module prefix.
	if slash := strings.IndexByte(loc, '/'); slash >= 0 && strings.Contains(loc[:slash], "@") {
		loc = loc[slash+1:]
	}

	switch loc {
	case "Native Method":
		f.Native = true
	case "", "Unknown Source":
	default:
		if colon := strings.LastIndexByte(loc, ':'); colon >= 0 {
			if n, err := strconv.Atoi(loc[colon+1:]); err == nil {
				f.FileName = loc[:colon]
				f.LineNumber = n
				break
			}
		}
		f.FileName = loc
	}
	return f, true
}

// parseLockLine handles the "- ..." annotations below a stack frame.
func parseLockLine(body string, th *ThreadInfo) {
	var rel LockRelation
	switch {
	case strings.HasPrefix(body, "locked "):
		rel = RelationLocked
	case strings.HasPrefix(body, "waiting to lock "):
		rel = RelationWaitingToLock
	case strings.HasPrefix(body, "waiting on "):
		rel = RelationWaitingOn
	case strings.HasPrefix(body, "parking to wait for"):
		rel = RelationParkingToWait
	case strings.HasPrefix(body, "eliminated "):
		rel = RelationEliminated
	default:
		// "waiting to re-lock in wait()" and future annotations: ignore.
		return
	}

	id, typ := parseLockRef(body)
	th.Locks = append(th.Locks, LockInfo{Identity: id, TypeName: typ, Relation: rel})
	if rel == RelationWaitingToLock && th.WaitingOnLockIdentity == "" && id != "" {
		th.WaitingOnLockIdentity = id
	}
}

// parseLockRef extracts "<0xHEX>" and "(a <type>)" from a lock annotation.
// "<no object reference available>" yields an empty identity.
func parseLockRef(s string) (id, typ string) {
	if lt := strings.IndexByte(s, '<'); lt >= 0 {
		if gt := strings.IndexByte(s[lt:], '>'); gt >= 0 {
			ref := s[lt+1 : lt+gt]
			if strings.HasPrefix(ref, "0x") {
				id = ref
			}
		}
	}
	if a := strings.Index(s, "(a "); a >= 0 {
		if cl := strings.IndexByte(s[a:], ')'); cl >= 0 {
			typ = s[a+3 : a+cl]
		}
	}
	return id, typ
}

// isDeadlockHeader matches "Found one Java-level deadlock:" and
// "Found 2 Java-level deadlocks:".
func isDeadlockHeader(line string) bool {
	return strings.HasPrefix(line, "Found ") && strings.Contains(line, "Java-level deadlock")
}

// parseDeadlockSection consumes the JVM deadlock report starting at
// lines[start] and returns the index of the last consumed line.
//
// The section interleaves one participant block per deadlock with a
// shared "Java stack information" block:
//
//	Found one Java-level deadlock:
//	=============================
//	"Thread-1":
//	  waiting to lock monitor 0x00007f7c8c006380 (object 0x000000076ab3db58, a java.lang.Object),
//	  which is held by "Thread-2"
//	...
//	Java stack information for the threads listed above:
//	===================================================
//	"Thread-1":
//		at Deadlock$1.run(Deadlock.java:20)
//		- waiting to lock <0x000000076ab3db58> (a java.lang.Object)
//	...
//	Found 1 deadlock.
func parseDeadlockSection(lines []string, start int, d *ThreadDump) int {
	dl := DeadlockInfo{}
	var cur *DeadlockedThread
	inStacks := false
	i := start + 1

	flush := func() {
		if len(dl.Threads) > 0 {
			d.Deadlocks = append(d.Deadlocks, dl)
			dl = DeadlockInfo{}
		}
	}

	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "==="):
			continue

		case strings.HasPrefix(trimmed, "Found ") && strings.Contains(trimmed, "deadlock."):
			flush()
			return i

		case isDeadlockHeader(trimmed):
			// Another deadlock group follows.
			flush()
			inStacks = false
			cur = nil

		case strings.HasPrefix(trimmed, "Java stack information"):
			flush()
			inStacks = true
			cur = nil

		case strings.HasPrefix(trimmed, "\"") && strings.HasSuffix(trimmed, ":"):
			name := strings.Trim(strings.TrimSuffix(trimmed, ":"), "\"")
			if inStacks {
				cur = findDeadlockedThread(d, name)
			} else {
				dl.Threads = append(dl.Threads, DeadlockedThread{Name: name})
				cur = &dl.Threads[len(dl.Threads)-1]
			}

		case cur != nil && inStacks && strings.HasPrefix(trimmed, "at "):
			if f, ok := parseFrame(trimmed); ok {
				cur.Stack = append(cur.Stack, f)
			}

		case cur != nil && inStacks && strings.HasPrefix(trimmed, "- "):
			var scratch ThreadInfo
			parseLockLine(trimmed[2:], &scratch)
			cur.Locks = append(cur.Locks, scratch.Locks...)

		case cur != nil && !inStacks && strings.HasPrefix(trimmed, "waiting to lock monitor "):
			rest := strings.TrimPrefix(trimmed, "waiting to lock monitor ")
			cur.WaitingForMonitor = firstHexToken(rest)
			if obj := strings.Index(rest, "(object "); obj >= 0 {
				cur.WaitingForObject = firstHexToken(rest[obj:])
			}
			if a := strings.Index(rest, ", a "); a >= 0 {
				cur.WaitingForObjectType = strings.Trim(strings.TrimRight(rest[a+4:], ","), ")")
			}

		case cur != nil && !inStacks && strings.HasPrefix(trimmed, "waiting for ownable synchronizer "):
			rest := strings.TrimPrefix(trimmed, "waiting for ownable synchronizer ")
			cur.WaitingForObject = firstHexToken(rest)
			if a := strings.Index(rest, "(a "); a >= 0 {
				cur.WaitingForObjectType = strings.Trim(strings.TrimRight(rest[a+3:], ","), ")")
			}

		case cur != nil && !inStacks && strings.Contains(trimmed, "held by"):
			if q := strings.IndexByte(trimmed, '"'); q >= 0 {
				cur.HeldBy = strings.Trim(trimmed[q:], "\"")
			} else if idx := strings.Index(trimmed, "held by "); idx >= 0 {
				cur.HeldBy = strings.TrimSpace(trimmed[idx+len("held by "):])
			}

		case strings.HasPrefix(lines[i], "\"") && !strings.HasSuffix(trimmed, ":"):
			// A regular thread header: the section ended without its
			// usual "Found N deadlock." footer. Back up one line.
			flush()
			return i - 1
		}
	}
	flush()
	return i - 1
}

// findDeadlockedThread locates a participant by name across the already
// collected deadlocks so the stack section can attach frames to it.
func findDeadlockedThread(d *ThreadDump, name string) *DeadlockedThread {
	for di := range d.Deadlocks {
		for ti := range d.Deadlocks[di].Threads {
			if d.Deadlocks[di].Threads[ti].Name == name {
				return &d.Deadlocks[di].Threads[ti]
			}
		}
	}
	return nil
}

// parseJNILine parses the JNI reference footer, e.g.
//
//	JNI global refs: 15, weak refs: 0
//	JNI global refs: 15, global refs memory usage: 800, weak refs: 3, weak refs memory usage: 160
func parseJNILine(line string) *JniInfo {
	info := &JniInfo{GlobalRefs: -1, WeakRefs: -1, GlobalRefsBytes: -1, WeakRefsBytes: -1}
	for _, seg := range strings.Split(line, ",") {
		seg = strings.TrimSpace(seg)
		colon := strings.LastIndexByte(seg, ':')
		if colon < 0 {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(seg[colon+1:]), 10, 64)
		if err != nil {
			continue
		}
		label := seg[:colon]
		weak := strings.Contains(label, "weak")
		bytes := strings.Contains(label, "memory") || strings.Contains(label, "bytes")
		switch {
		case weak && bytes:
			info.WeakRefsBytes = v
		case weak:
			info.WeakRefs = v
		case bytes:
			info.GlobalRefsBytes = v
		default:
			info.GlobalRefs = v
		}
	}
	return info
}

func firstHexToken(s string) string {
	idx := strings.Index(s, "0x")
	if idx < 0 {
		return ""
	}
	end := idx + 2
	for end < len(s) && isHexDigit(s[end]) {
		end++
	}
	return s[idx:end]
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
