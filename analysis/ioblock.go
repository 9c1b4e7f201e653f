package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Alain-L/threadscope/parser"
)

// AnalyzerIOBlock is the I/O block analyzer's name.
const AnalyzerIOBlock = "io-block"

// CategoryIOStuck flags a thread pinned in the same I/O call across
// snapshots.
const CategoryIOStuck = "io-stuck"

// IOType classifies what kind of I/O a thread is blocked in.
type IOType string

const (
	IONone        IOType = ""
	IOSocketRead  IOType = "SOCKET_READ"
	IOSocketWrite IOType = "SOCKET_WRITE"
	IOFileRead    IOType = "FILE_READ"
	IOFileWrite   IOType = "FILE_WRITE"
	IODatabase    IOType = "DATABASE"
	IONativeOther IOType = "NATIVE_OTHER"
)

// IOTypeOrder fixes the rendering order of the per-type counters.
var IOTypeOrder = []IOType{
	IOSocketRead, IOSocketWrite, IOFileRead, IOFileWrite, IODatabase, IONativeOther,
}

// topFrameWindow is how many frames from the top of the stack the
// classifier inspects. Wrapped streams (Buffered, Channels, SSL) put the
// real I/O call a few frames down.
const topFrameWindow = 5

// Frame substrings per I/O family. Matching is against the frame's
// "class.method" form.
var (
	socketReadFrames  = []string{"SocketInputStream.read", "SocketInputStream.socketRead", "SocketChannelImpl.read", "SocketDispatcher.read", "NioSocketImpl.read"}
	socketWriteFrames = []string{"SocketOutputStream.write", "SocketOutputStream.socketWrite", "SocketChannelImpl.write", "SocketDispatcher.write", "NioSocketImpl.write"}
	fileReadFrames    = []string{"FileInputStream.read", "RandomAccessFile.read"}
	fileWriteFrames   = []string{"FileOutputStream.write", "RandomAccessFile.write"}

	// databaseClassMarkers identify driver frames sitting atop a socket
	// read: the thread is waiting on the database, not a generic peer.
	databaseClassMarkers = []string{"mysql", "postgresql", "oracle", "mssql", "sqlserver", "mariadb", "jdbc"}

	// nativeWaitMethods are native methods that block without matching a
	// more specific family. Unsafe.park is deliberately absent: parked
	// threads are waiting, not doing I/O.
	nativeWaitMethods = []string{"poll", "epollWait", "select", "accept", "accept0", "socketAccept", "wait0", "recv", "recvfrom", "send", "sendto"}
)

// classifyIO determines the I/O family a stack is blocked in, IONone when
// the top frames show no known I/O API.
func classifyIO(stack []parser.StackFrame) IOType {
	n := len(stack)
	if n > topFrameWindow {
		n = topFrameWindow
	}

	sawSocketRead := false
	for _, f := range stack {
		if matchesAny(f.Qualified(), socketReadFrames) {
			sawSocketRead = true
			break
		}
	}

	for i := 0; i < n; i++ {
		f := stack[i]
		q := f.Qualified()
		lowClass := strings.ToLower(f.ClassName)

		if sawSocketRead {
			for _, marker := range databaseClassMarkers {
				if strings.Contains(lowClass, marker) {
					return IODatabase
				}
			}
		}
		switch {
		case matchesAny(q, socketReadFrames):
			return IOSocketRead
		case matchesAny(q, socketWriteFrames):
			return IOSocketWrite
		case matchesAny(q, fileReadFrames):
			return IOFileRead
		case matchesAny(q, fileWriteFrames):
			return IOFileWrite
		}
	}

	if n > 0 && stack[0].Native {
		for _, m := range nativeWaitMethods {
			if stack[0].MethodName == m {
				return IONativeOther
			}
		}
	}
	return IONone
}

func matchesAny(q string, substrings []string) bool {
	for _, s := range substrings {
		if strings.Contains(q, s) {
			return true
		}
	}
	return false
}

// IOThread is one I/O-blocked thread in the latest snapshot.
type IOThread struct {
	Identity string `json:"identity" yaml:"identity"`
	Name     string `json:"name" yaml:"name"`
	Type     IOType `json:"type" yaml:"type"`
	TopFrame string `json:"top_frame,omitempty" yaml:"top_frame,omitempty"`

	// StuckSnapshots is how many trailing snapshots the thread spent in
	// this same call with an identical stack.
	StuckSnapshots int `json:"stuck_snapshots" yaml:"stuck_snapshots"`
}

// IOBlockReport is the I/O analyzer's typed payload.
type IOBlockReport struct {
	Threads    []IOThread     `json:"threads" yaml:"threads"`
	Counts     map[IOType]int `json:"counts" yaml:"counts"`
	StuckCount int            `json:"stuck_count" yaml:"stuck_count"`
}

// ioBlockAnalyzer classifies threads by the I/O APIs on top of their
// stacks and flags threads pinned in the same call across snapshots.
type ioBlockAnalyzer struct{}

// NewIOBlockAnalyzer returns the I/O block analyzer.
func NewIOBlockAnalyzer() Analyzer { return ioBlockAnalyzer{} }

func (ioBlockAnalyzer) Name() string                    { return AnalyzerIOBlock }
func (ioBlockAnalyzer) Priority() int                   { return 55 }
func (ioBlockAnalyzer) RequiresMultipleSnapshots() bool { return false }
func (ioBlockAnalyzer) RequiresProfile() bool           { return false }

// ioStuckMinSnapshots is how many trailing snapshots with an identical
// stack in the same I/O family flag a thread as io-stuck.
const ioStuckMinSnapshots = 3

func (a ioBlockAnalyzer) Analyze(ctx context.Context, ac *Context) *Result {
	res := newResult(AnalyzerIOBlock, ac.Timestamp())
	report := &IOBlockReport{Counts: make(map[IOType]int)}
	res.Data = report

	if len(ac.Snapshots) == 0 {
		res.Summary = "no snapshots"
		return res
	}

	last := len(ac.Snapshots) - 1
	byIdentity := make([]map[string]*parser.ThreadInfo, len(ac.Snapshots))
	for si := range ac.Snapshots {
		byIdentity[si] = ac.threadsByIdentity(si)
	}
	latest := byIdentity[last]

	var ids []string
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		t := latest[id]
		ioType := classifyIO(t.Stack)
		if ioType == IONone {
			continue
		}

		it := IOThread{
			Identity:       id,
			Name:           t.Name,
			Type:           ioType,
			TopFrame:       t.Stack[0].Qualified(),
			StuckSnapshots: 1,
		}

		// Walk backwards through earlier snapshots while the thread kept
		// the exact same stack in the same I/O family.
		for si := last - 1; si >= 0; si-- {
			prev := byIdentity[si][id]
			if prev == nil || classifyIO(prev.Stack) != ioType || !parser.SameStack(prev.Stack, t.Stack) {
				break
			}
			it.StuckSnapshots++
		}

		report.Threads = append(report.Threads, it)
		report.Counts[ioType]++
		if it.StuckSnapshots >= ioStuckMinSnapshots {
			report.StuckCount++
			res.AddFinding(Finding{
				Category: CategoryIOStuck,
				Severity: SeverityWarning,
				Message: fmt.Sprintf("thread %q pinned in %s for %d snapshots (%s)",
					t.Name, ioType, it.StuckSnapshots, it.TopFrame),
			})
		}
	}

	if len(report.Threads) == 0 {
		res.Summary = "no threads blocked in I/O"
	} else {
		res.Summary = fmt.Sprintf("%d thread(s) in I/O, %d stuck", len(report.Threads), report.StuckCount)
	}
	return res
}
