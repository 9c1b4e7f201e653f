package analysis

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/Alain-L/threadscope/parser"
)

// Analyzer is one independent, side-effect-free pass over the context.
// Analyzers never mutate the snapshots and never see each other's output;
// the one exception is the verdict consolidator, which the engine feeds
// the other results explicitly.
type Analyzer interface {
	// Name identifies the analyzer in results and logs.
	Name() string

	// Priority orders results for presentation; higher renders first.
	Priority() int

	// RequiresMultipleSnapshots makes the engine skip the analyzer
	// silently when fewer than two snapshots are supplied.
	RequiresMultipleSnapshots() bool

	// RequiresProfile makes the engine skip the analyzer silently when
	// no profiling summary is attached to the context.
	RequiresProfile() bool

	// Analyze produces the analyzer's result. Implementations check ctx
	// at coarse loop boundaries (per snapshot, per thread) and return a
	// partial WARNING result when cancelled.
	Analyze(ctx context.Context, ac *Context) *Result
}

// consolidator is the extension point for analyzers that run after all
// others and read their results. The verdict analyzer is the only one.
type consolidator interface {
	Consolidate(ctx context.Context, ac *Context, children []*Result) *Result
}

// Engine holds an ordered analyzer registry. Build it once at startup;
// Analyze is safe for concurrent use afterwards.
type Engine struct {
	analyzers []Analyzer
}

// NewEngine builds an engine over the given analyzers.
func NewEngine(analyzers ...Analyzer) *Engine {
	sorted := append([]Analyzer(nil), analyzers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority() != sorted[j].Priority() {
			return sorted[i].Priority() > sorted[j].Priority()
		}
		return sorted[i].Name() < sorted[j].Name()
	})
	return &Engine{analyzers: sorted}
}

// DefaultEngine returns an engine with the full standard analyzer set.
func DefaultEngine() *Engine {
	return NewEngine(
		NewDeadlockAnalyzer(),
		NewProgressAnalyzer(),
		NewContentionAnalyzer(),
		NewStackGroupAnalyzer(),
		NewSimilarStackAnalyzer(),
		NewPoolAnalyzer(),
		NewIOBlockAnalyzer(),
		NewChurnAnalyzer(),
		NewGCActivityAnalyzer(),
		NewProfileHotspotsAnalyzer(),
		NewVerdictAnalyzer(),
	)
}

// Analyze parses nothing and renders nothing: it runs every registered
// analyzer over the already-parsed snapshots and returns the composite
// result tree. It never returns an error; analyzer failures become
// WARNING findings and absence of problems is a first-class OK outcome.
func Analyze(ctx context.Context, snapshots []*parser.ThreadDump, opts Options, profile ProfileSummary) *Result {
	return DefaultEngine().Analyze(ctx, NewContext(snapshots, opts, profile))
}

// Analyze runs each analyzer independently and composes the results in
// registry (priority) order. Consolidators run last over the accumulated
// children. Cancellation yields a partial composite marked WARNING.
func (e *Engine) Analyze(ctx context.Context, ac *Context) *Result {
	root := newResult("composite", ac.Timestamp())
	root.Summary = fmt.Sprintf("analysis of %d snapshot(s)", len(ac.Snapshots))

	var pending []consolidator
	for _, a := range e.analyzers {
		if ctx.Err() != nil {
			root.AddFinding(Finding{
				Category: CategoryCancelled,
				Severity: SeverityWarning,
				Message:  "analysis cancelled; results are partial",
			})
			break
		}
		if c, ok := a.(consolidator); ok {
			pending = append(pending, c)
			continue
		}
		if skip(a, ac) {
			continue
		}
		root.Children = append(root.Children, e.run(ctx, a, ac))
	}

	for _, c := range pending {
		root.Children = append(root.Children, c.Consolidate(ctx, ac, root.Children))
	}

	// Presentation order is by declared priority regardless of execution
	// order, so a parallelized engine would render identically.
	prio := make(map[string]int, len(e.analyzers))
	for _, a := range e.analyzers {
		prio[a.Name()] = a.Priority()
	}
	sort.SliceStable(root.Children, func(i, j int) bool {
		if prio[root.Children[i].Analyzer] != prio[root.Children[j].Analyzer] {
			return prio[root.Children[i].Analyzer] > prio[root.Children[j].Analyzer]
		}
		return root.Children[i].Analyzer < root.Children[j].Analyzer
	})

	for _, child := range root.Children {
		root.Severity = MaxSeverity(root.Severity, child.Severity)
	}
	return root
}

// skip applies the analyzer's declared preconditions. A skipped analyzer
// is not an error and leaves no trace in the result.
func skip(a Analyzer, ac *Context) bool {
	if a.RequiresMultipleSnapshots() && len(ac.Snapshots) < 2 {
		return true
	}
	if a.RequiresProfile() && ac.Profile == nil {
		return true
	}
	return false
}

// run executes one analyzer, converting a panic into a WARNING finding so
// one failing analyzer never aborts the pipeline.
func (e *Engine) run(ctx context.Context, a Analyzer, ac *Context) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("analyzer %s failed: %v", a.Name(), r)
			res = newResult(a.Name(), ac.Timestamp())
			res.Summary = "analyzer failed"
			res.AddFinding(Finding{
				Category: CategoryAnalyzerError,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("analyzer %s failed: %v", a.Name(), r),
			})
		}
	}()
	return a.Analyze(ctx, ac)
}

// cancelled marks a result as a partial outcome of a cancelled run.
// Analyzers call this when they bail out at a loop boundary.
func cancelled(res *Result) *Result {
	res.AddFinding(Finding{
		Category: CategoryCancelled,
		Severity: SeverityWarning,
		Message:  "analysis cancelled; result is partial",
	})
	return res
}
