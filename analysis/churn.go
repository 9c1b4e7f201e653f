package analysis

import (
	"context"
	"fmt"
)

// AnalyzerChurn is the thread churn analyzer's name.
const AnalyzerChurn = "thread-churn"

// CategoryChurn flags sustained heavy thread creation/termination.
const CategoryChurn = "thread-churn"

// churnAlertRatio: a pair alerts when created+terminated exceeds this
// fraction of the stable population.
const churnAlertRatio = 0.25

// ChurnPair is the identity diff between two consecutive snapshots.
type ChurnPair struct {
	// SnapshotIndex is the later snapshot of the pair.
	SnapshotIndex int `json:"snapshot_index" yaml:"snapshot_index"`

	Created    int `json:"created" yaml:"created"`
	Terminated int `json:"terminated" yaml:"terminated"`
	Restarted  int `json:"restarted" yaml:"restarted"`
	Stable     int `json:"stable" yaml:"stable"`
}

// heavy reports whether the pair's turnover crosses the alert ratio.
func (p *ChurnPair) heavy() bool {
	return float64(p.Created+p.Terminated) > churnAlertRatio*float64(p.Stable)
}

// ChurnReport is the churn analyzer's typed payload.
type ChurnReport struct {
	Pairs []ChurnPair `json:"pairs" yaml:"pairs"`
}

// churnAnalyzer counts created, terminated, restarted and stable
// identities over consecutive snapshot pairs. Sustained turnover points
// at threads being spawned per task instead of pooled.
type churnAnalyzer struct{}

// NewChurnAnalyzer returns the thread churn analyzer.
func NewChurnAnalyzer() Analyzer { return churnAnalyzer{} }

func (churnAnalyzer) Name() string                    { return AnalyzerChurn }
func (churnAnalyzer) Priority() int                   { return 50 }
func (churnAnalyzer) RequiresMultipleSnapshots() bool { return true }
func (churnAnalyzer) RequiresProfile() bool           { return false }

func (a churnAnalyzer) Analyze(ctx context.Context, ac *Context) *Result {
	res := newResult(AnalyzerChurn, ac.Timestamp())
	report := &ChurnReport{}
	res.Data = report

	for _, pair := range ac.PairedSnapshots() {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		before := ac.threadsByIdentity(pair.Index - 1)
		after := ac.threadsByIdentity(pair.Index)

		p := ChurnPair{SnapshotIndex: pair.Index}
		for id, cur := range after {
			prev, ok := before[id]
			switch {
			case !ok:
				p.Created++
			case prev.ElapsedTimeMs >= 0 && cur.ElapsedTimeMs >= 0 && cur.ElapsedTimeMs < prev.ElapsedTimeMs:
				p.Restarted++
			default:
				p.Stable++
			}
		}
		for id := range before {
			if _, ok := after[id]; !ok {
				p.Terminated++
			}
		}
		report.Pairs = append(report.Pairs, p)
	}

	// Alert on two consecutive heavy pairs; a single burst is normal
	// during startup or a load spike.
	for i := 1; i < len(report.Pairs); i++ {
		if report.Pairs[i-1].heavy() && report.Pairs[i].heavy() {
			res.AddFinding(Finding{
				Category: CategoryChurn,
				Severity: SeverityWarning,
				Message: fmt.Sprintf("sustained thread churn: %d created, %d terminated around snapshot %d",
					report.Pairs[i].Created, report.Pairs[i].Terminated, report.Pairs[i].SnapshotIndex),
			})
			break
		}
	}

	total := 0
	for _, p := range report.Pairs {
		total += p.Created + p.Terminated
	}
	res.Summary = fmt.Sprintf("%d thread(s) created or terminated across %d pair(s)", total, len(report.Pairs))
	return res
}
