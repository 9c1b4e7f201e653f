package analysis

import (
	"context"
	"fmt"
	"sort"

	"github.com/Alain-L/threadscope/parser"
)

// AnalyzerContention is the lock contention analyzer's name.
const AnalyzerContention = "lock-contention"

// Contention finding categories.
const (
	CategoryContendedLock = "contended-lock"
	CategoryHotLock       = "hot-lock"
	CategoryLongHeldLock  = "long-held-lock"
)

// errorWaiterCount is the waiter count at which a hot lock escalates from
// WARNING to ERROR. The hot threshold itself is configurable; this upper
// rung is not.
const errorWaiterCount = 7

// LockContention is one contended lock in one snapshot.
type LockContention struct {
	SnapshotIndex int    `json:"snapshot_index" yaml:"snapshot_index"`
	LockID        string `json:"lock_id" yaml:"lock_id"`
	TypeName      string `json:"type_name,omitempty" yaml:"type_name,omitempty"`

	// Owner is the holding thread's name, empty when no owner was found.
	Owner string `json:"owner,omitempty" yaml:"owner,omitempty"`

	// Waiters are the blocked threads' names, sorted.
	Waiters []string `json:"waiters" yaml:"waiters"`

	// Hot is true when the waiter count reaches the configured threshold.
	Hot bool `json:"hot" yaml:"hot"`

	// IOAssociated is true when the owner sits in an I/O call while
	// holding the lock, the worst contention shape: every waiter is
	// effectively waiting on the remote peer.
	IOAssociated bool `json:"io_associated" yaml:"io_associated"`
}

// LongHeldLock is a lock that stayed with one owner across consecutive
// snapshots.
type LongHeldLock struct {
	LockID    string `json:"lock_id" yaml:"lock_id"`
	Owner     string `json:"owner" yaml:"owner"`
	Snapshots int    `json:"snapshots" yaml:"snapshots"`
}

// ContentionReport is the contention analyzer's typed payload.
type ContentionReport struct {
	// Locks holds every contended lock, most waiters first.
	Locks []LockContention `json:"locks" yaml:"locks"`

	// MaxWaiters is the largest waiter count seen on a single lock.
	MaxWaiters int `json:"max_waiters" yaml:"max_waiters"`

	// HotLockCount is the number of hot observations across snapshots.
	HotLockCount int `json:"hot_lock_count" yaml:"hot_lock_count"`

	LongHeld []LongHeldLock `json:"long_held,omitempty" yaml:"long_held,omitempty"`
}

// contentionAnalyzer aggregates lock owners and waiters per snapshot and
// ranks the contended locks.
type contentionAnalyzer struct{}

// NewContentionAnalyzer returns the lock contention analyzer.
func NewContentionAnalyzer() Analyzer { return contentionAnalyzer{} }

func (contentionAnalyzer) Name() string                    { return AnalyzerContention }
func (contentionAnalyzer) Priority() int                   { return 80 }
func (contentionAnalyzer) RequiresMultipleSnapshots() bool { return false }
func (contentionAnalyzer) RequiresProfile() bool           { return false }

func (a contentionAnalyzer) Analyze(ctx context.Context, ac *Context) *Result {
	res := newResult(AnalyzerContention, ac.Timestamp())
	report := &ContentionReport{}
	res.Data = report

	// ownerRuns tracks, per lock identity, the current owner and how many
	// consecutive snapshots it has held the lock.
	type run struct {
		owner string
		count int
		last  int
	}
	ownerRuns := make(map[string]*run)

	contendedTotal := 0
	for si := range ac.Snapshots {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		threads := ac.VisibleThreads(si)

		owners := make(map[string]*parser.ThreadInfo)
		types := make(map[string]string)
		waiters := make(map[string][]string)
		var lockOrder []string

		for _, t := range threads {
			for _, l := range t.Locks {
				if l.Identity == "" {
					continue
				}
				if _, seen := types[l.Identity]; !seen {
					lockOrder = append(lockOrder, l.Identity)
					types[l.Identity] = l.TypeName
				}
				if l.Relation == parser.RelationLocked && owners[l.Identity] == nil {
					owners[l.Identity] = t
				}
			}
			if w := t.WaitingOnLockIdentity; w != "" {
				if _, seen := types[w]; !seen {
					lockOrder = append(lockOrder, w)
				}
				waiters[w] = append(waiters[w], t.Name)
			}
		}

		for _, id := range lockOrder {
			// Long-held tracking is per ownership, contended or not.
			if owner := owners[id]; owner != nil {
				r := ownerRuns[id]
				if r != nil && r.owner == owner.Name && r.last == si-1 {
					r.count++
					r.last = si
				} else {
					ownerRuns[id] = &run{owner: owner.Name, count: 1, last: si}
				}
			}

			ws := waiters[id]
			if len(ws) == 0 {
				continue
			}
			contendedTotal++
			sort.Strings(ws)
			lc := LockContention{
				SnapshotIndex: si,
				LockID:        id,
				TypeName:      types[id],
				Waiters:       ws,
				Hot:           len(ws) >= ac.Options.HotLockWaiterThreshold,
			}
			if owner := owners[id]; owner != nil {
				lc.Owner = owner.Name
				lc.IOAssociated = classifyIO(owner.Stack) != IONone
			}
			if len(ws) > report.MaxWaiters {
				report.MaxWaiters = len(ws)
			}
			if lc.Hot {
				report.HotLockCount++
				sev := SeverityWarning
				if len(ws) >= errorWaiterCount || lc.IOAssociated {
					sev = SeverityError
				}
				res.AddFinding(Finding{
					Category: CategoryHotLock,
					Severity: sev,
					Message:  fmt.Sprintf("hot lock %s (%s) with %d waiters", id, lc.TypeName, len(ws)),
					Details:  fmt.Sprintf("snapshot %d, held by %q", si, lc.Owner),
				})
			}
			report.Locks = append(report.Locks, lc)
		}
	}

	sort.SliceStable(report.Locks, func(i, j int) bool {
		if len(report.Locks[i].Waiters) != len(report.Locks[j].Waiters) {
			return len(report.Locks[i].Waiters) > len(report.Locks[j].Waiters)
		}
		return report.Locks[i].LockID < report.Locks[j].LockID
	})

	// Long-held locks, sorted for deterministic output.
	var heldIDs []string
	for id, r := range ownerRuns {
		if r.count >= ac.Options.LongHeldLockMinSnapshots {
			heldIDs = append(heldIDs, id)
		}
	}
	sort.Strings(heldIDs)
	for _, id := range heldIDs {
		r := ownerRuns[id]
		report.LongHeld = append(report.LongHeld, LongHeldLock{LockID: id, Owner: r.owner, Snapshots: r.count})
		res.AddFinding(Finding{
			Category: CategoryLongHeldLock,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("lock %s held by %q for %d consecutive snapshots", id, r.owner, r.count),
		})
	}

	if contendedTotal > 0 && report.HotLockCount == 0 {
		res.AddFinding(Finding{
			Category: CategoryContendedLock,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("%d contended lock(s), none hot", contendedTotal),
		})
	}

	switch {
	case contendedTotal == 0:
		res.Summary = "no lock contention"
	case report.HotLockCount == 0:
		res.Summary = fmt.Sprintf("%d contended lock(s)", contendedTotal)
	default:
		res.Summary = fmt.Sprintf("%d contended lock(s), %d hot, max %d waiters",
			contendedTotal, report.HotLockCount, report.MaxWaiters)
	}
	return res
}
