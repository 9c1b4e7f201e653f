package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Alain-L/threadscope/parser"
)

// AnalyzerDeadlock is the deadlock analyzer's name.
const AnalyzerDeadlock = "deadlock"

// Deadlock finding categories.
const (
	CategoryDeadlock           = "deadlock"
	CategoryPersistentDeadlock = "persistent-deadlock"
	CategorySelfWait           = "self-wait"
	CategoryOrphanWait         = "orphan-wait"
	CategoryLockOwnership      = "lock-ownership"
)

// DeadlockCycle is one detected cycle in a snapshot's waits-for graph.
type DeadlockCycle struct {
	// SnapshotIndex is the snapshot the cycle was found in.
	SnapshotIndex int `json:"snapshot_index" yaml:"snapshot_index"`

	// Participants are the cycle's thread names in canonical rotation:
	// the walk starts at the lexicographically smallest name.
	Participants []string `json:"participants" yaml:"participants"`

	// Locks are the contended lock identities along the cycle, aligned
	// with Participants (lock i is what participant i waits for). For a
	// cycle taken from the runtime's own report these are the contended
	// object addresses; an entry is the empty string when the report gave
	// none for that participant.
	Locks []string `json:"locks,omitempty" yaml:"locks,omitempty"`

	// FromRuntimeReport is true when the cycle was taken from the dump's
	// own deadlock section rather than reconstructed from lock edges.
	FromRuntimeReport bool `json:"from_runtime_report" yaml:"from_runtime_report"`
}

// participantKey is the order-insensitive identity of a cycle, used to
// recognize the same deadlock across snapshots.
func (c *DeadlockCycle) participantKey() string {
	names := append([]string(nil), c.Participants...)
	sort.Strings(names)
	return strings.Join(names, "\x00")
}

// DeadlockReport is the deadlock analyzer's typed payload.
type DeadlockReport struct {
	Cycles []DeadlockCycle `json:"cycles" yaml:"cycles"`
}

// deadlockAnalyzer builds a waits-for graph per snapshot and enumerates
// its cycles. When the runtime already reported deadlocks in the dump,
// those are used directly.
type deadlockAnalyzer struct{}

// NewDeadlockAnalyzer returns the deadlock analyzer.
func NewDeadlockAnalyzer() Analyzer { return deadlockAnalyzer{} }

func (deadlockAnalyzer) Name() string                    { return AnalyzerDeadlock }
func (deadlockAnalyzer) Priority() int                   { return 100 }
func (deadlockAnalyzer) RequiresMultipleSnapshots() bool { return false }
func (deadlockAnalyzer) RequiresProfile() bool           { return false }

func (a deadlockAnalyzer) Analyze(ctx context.Context, ac *Context) *Result {
	res := newResult(AnalyzerDeadlock, ac.Timestamp())
	report := &DeadlockReport{}
	res.Data = report

	for si := range ac.Snapshots {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		a.analyzeSnapshot(si, ac, res, report)
	}

	if len(ac.Snapshots) >= 2 {
		reportPersistent(res, report)
	}

	switch n := len(report.Cycles); n {
	case 0:
		res.Summary = "no deadlocks detected"
	case 1:
		res.Summary = "1 deadlock detected"
	default:
		res.Summary = fmt.Sprintf("%d deadlocks detected", n)
	}
	return res
}

func (a deadlockAnalyzer) analyzeSnapshot(si int, ac *Context, res *Result, report *DeadlockReport) {
	snap := ac.Snapshots[si]

	// Prefer the runtime's own deadlock report when the dump carries one.
	if len(snap.Deadlocks) > 0 {
		for _, dl := range snap.Deadlocks {
			cycle := cycleFromRuntimeReport(si, dl)
			report.Cycles = append(report.Cycles, cycle)
			res.AddFinding(Finding{
				Category: CategoryDeadlock,
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("deadlock between %s", strings.Join(cycle.Participants, ", ")),
				Details:  fmt.Sprintf("snapshot %d, reported by the runtime", si),
			})
		}
		return
	}

	g := buildWaitsForGraph(ac.VisibleThreads(si))

	for _, w := range g.warnings {
		res.AddFinding(w)
	}

	for _, cycle := range g.cycles() {
		names := make([]string, len(cycle))
		locks := make([]string, len(cycle))
		for i, t := range cycle {
			names[i] = t.Name
			locks[i] = t.WaitingOnLockIdentity
		}
		c := DeadlockCycle{SnapshotIndex: si, Participants: names, Locks: locks}
		c.canonicalize()
		report.Cycles = append(report.Cycles, c)
		res.AddFinding(Finding{
			Category: CategoryDeadlock,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("deadlock between %s", strings.Join(c.Participants, ", ")),
			Details:  fmt.Sprintf("snapshot %d, locks %s", si, strings.Join(c.Locks, " -> ")),
		})
	}
}

// canonicalize rotates the cycle so the smallest participant name leads.
// Lock i stays the lock participant i waits for.
func (c *DeadlockCycle) canonicalize() {
	if len(c.Participants) == 0 {
		return
	}
	min := 0
	for i, name := range c.Participants {
		if name < c.Participants[min] {
			min = i
		}
	}
	rotate := func(s []string) []string {
		out := make([]string, 0, len(s))
		out = append(out, s[min:]...)
		return append(out, s[:min]...)
	}
	c.Participants = rotate(c.Participants)
	if len(c.Locks) == len(c.Participants) {
		c.Locks = rotate(c.Locks)
	}
}

// cycleFromRuntimeReport converts a parsed deadlock section into a cycle.
func cycleFromRuntimeReport(si int, dl parser.DeadlockInfo) DeadlockCycle {
	c := DeadlockCycle{SnapshotIndex: si, FromRuntimeReport: true}
	for _, t := range dl.Threads {
		c.Participants = append(c.Participants, t.Name)
		c.Locks = append(c.Locks, t.WaitingForObject)
	}
	c.canonicalize()
	return c
}

// waitsForGraph is the per-snapshot directed graph with an edge
// waiter -> owner for every thread blocked on a lock another thread
// holds. Each node has at most one outgoing edge (a thread waits on at
// most one monitor), which keeps cycle enumeration a linear walk.
type waitsForGraph struct {
	nodes    map[string]*parser.ThreadInfo // thread name -> thread
	edges    map[string]string             // waiter name -> owner name
	order    []string                      // node names in input order
	warnings []Finding
}

// buildWaitsForGraph joins each waiter's lock address against the
// snapshot's lock owners.
func buildWaitsForGraph(threads []*parser.ThreadInfo) *waitsForGraph {
	g := &waitsForGraph{
		nodes: make(map[string]*parser.ThreadInfo, len(threads)),
		edges: make(map[string]string),
	}

	owners := make(map[string]*parser.ThreadInfo)
	for _, t := range threads {
		g.nodes[t.Name] = t
		g.order = append(g.order, t.Name)
		for _, l := range t.Locks {
			if l.Relation != parser.RelationLocked || l.Identity == "" {
				continue
			}
			if prev, taken := owners[l.Identity]; taken && prev.Name != t.Name {
				g.warnings = append(g.warnings, Finding{
					Category: CategoryLockOwnership,
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("lock %s is held by both %q and %q", l.Identity, prev.Name, t.Name),
				})
				continue
			}
			owners[l.Identity] = t
		}
	}

	for _, name := range g.order {
		t := g.nodes[name]
		if t.WaitingOnLockIdentity == "" {
			continue
		}
		owner, ok := owners[t.WaitingOnLockIdentity]
		if !ok {
			g.warnings = append(g.warnings, Finding{
				Category: CategoryOrphanWait,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("thread %q waits on lock %s with no discoverable owner", t.Name, t.WaitingOnLockIdentity),
			})
			continue
		}
		if owner.Name == t.Name {
			g.warnings = append(g.warnings, Finding{
				Category: CategorySelfWait,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("thread %q waits on lock %s it holds itself", t.Name, t.WaitingOnLockIdentity),
			})
			continue
		}
		g.edges[t.Name] = owner.Name
	}
	return g
}

// cycles enumerates the elementary cycles. With out-degree at most one the
// graph is functional: every walk either terminates or runs into a cycle,
// and each cycle is discovered exactly once by coloring nodes.
func (g *waitsForGraph) cycles() [][]*parser.ThreadInfo {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current walk
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.nodes))
	pos := make(map[string]int)

	var out [][]*parser.ThreadInfo
	for _, start := range g.order {
		if color[start] != white {
			continue
		}
		var walk []string
		for n := start; ; {
			color[n] = gray
			pos[n] = len(walk)
			walk = append(walk, n)

			next, ok := g.edges[n]
			if !ok || color[next] == black {
				break
			}
			if color[next] == gray {
				cycle := make([]*parser.ThreadInfo, 0, len(walk)-pos[next])
				for _, name := range walk[pos[next]:] {
					cycle = append(cycle, g.nodes[name])
				}
				out = append(out, cycle)
				break
			}
			n = next
		}
		for _, name := range walk {
			color[name] = black
			delete(pos, name)
		}
	}
	return out
}

// reportPersistent emits a finding for every participant set that shows
// up as a deadlock in two or more snapshots.
func reportPersistent(res *Result, report *DeadlockReport) {
	snapshotsByKey := make(map[string]map[int]bool)
	namesByKey := make(map[string][]string)
	var keys []string
	for i := range report.Cycles {
		c := &report.Cycles[i]
		key := c.participantKey()
		if snapshotsByKey[key] == nil {
			snapshotsByKey[key] = make(map[int]bool)
			namesByKey[key] = c.Participants
			keys = append(keys, key)
		}
		snapshotsByKey[key][c.SnapshotIndex] = true
	}
	for _, key := range keys {
		if len(snapshotsByKey[key]) < 2 {
			continue
		}
		res.AddFinding(Finding{
			Category: CategoryPersistentDeadlock,
			Severity: SeverityCritical,
			Message: fmt.Sprintf("deadlock between %s persists across %d snapshots",
				strings.Join(namesByKey[key], ", "), len(snapshotsByKey[key])),
		})
	}
}
