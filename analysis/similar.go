package analysis

import (
	"context"
	"fmt"
	"sort"

	"github.com/Alain-L/threadscope/parser"
)

// AnalyzerSimilarStack is the prefix-based stack grouping analyzer's name.
const AnalyzerSimilarStack = "similar-stack"

// SimilarGroup is a maximal set of threads whose stacks agree from the
// top of the stack (deepest frame) down for some shared prefix.
type SimilarGroup struct {
	// Prefix is the shared leading frames, deepest frame first.
	Prefix []parser.StackFrame `json:"prefix" yaml:"prefix"`

	// PrefixLength is len(Prefix), kept explicit for renderers.
	PrefixLength int `json:"prefix_length" yaml:"prefix_length"`

	// Threads holds the member names in input order.
	Threads []string `json:"threads" yaml:"threads"`
}

// SimilarStackReport is the similar stack analyzer's typed payload.
type SimilarStackReport struct {
	// Groups is sorted by size descending, then prefix length descending.
	Groups []SimilarGroup `json:"groups" yaml:"groups"`
}

// similarStackAnalyzer agglomerates the latest snapshot's threads by
// their deepest frame and reports each cluster's longest common prefix.
// Where the exact grouper demands identical stacks, this one catches
// threads stuck in the same call that arrived from different paths.
type similarStackAnalyzer struct{}

// NewSimilarStackAnalyzer returns the prefix grouping analyzer.
func NewSimilarStackAnalyzer() Analyzer { return similarStackAnalyzer{} }

func (similarStackAnalyzer) Name() string                    { return AnalyzerSimilarStack }
func (similarStackAnalyzer) Priority() int                   { return 65 }
func (similarStackAnalyzer) RequiresMultipleSnapshots() bool { return false }
func (similarStackAnalyzer) RequiresProfile() bool           { return false }

func (a similarStackAnalyzer) Analyze(ctx context.Context, ac *Context) *Result {
	res := newResult(AnalyzerSimilarStack, ac.Timestamp())
	report := &SimilarStackReport{}
	res.Data = report

	if len(ac.Snapshots) == 0 {
		res.Summary = "no snapshots"
		return res
	}

	last := len(ac.Snapshots) - 1

	type cluster struct {
		prefix  []parser.StackFrame
		threads []string
	}
	clusters := make(map[parser.StackFrame]*cluster)
	var order []parser.StackFrame

	for _, t := range ac.VisibleThreads(last) {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		if len(t.Stack) == 0 {
			continue
		}
		top := t.Stack[0]
		c, ok := clusters[top]
		if !ok {
			c = &cluster{prefix: t.Stack}
			clusters[top] = c
			order = append(order, top)
		} else {
			c.prefix = commonPrefix(c.prefix, t.Stack)
		}
		c.threads = append(c.threads, t.Name)
	}

	for _, top := range order {
		c := clusters[top]
		if len(c.threads) < 2 || len(c.prefix) < 1 {
			continue
		}
		report.Groups = append(report.Groups, SimilarGroup{
			Prefix:       c.prefix,
			PrefixLength: len(c.prefix),
			Threads:      c.threads,
		})
	}
	sort.SliceStable(report.Groups, func(i, j int) bool {
		gi, gj := &report.Groups[i], &report.Groups[j]
		if len(gi.Threads) != len(gj.Threads) {
			return len(gi.Threads) > len(gj.Threads)
		}
		if gi.PrefixLength != gj.PrefixLength {
			return gi.PrefixLength > gj.PrefixLength
		}
		return gi.Threads[0] < gj.Threads[0]
	})

	for _, g := range report.Groups {
		res.AddFinding(Finding{
			Category: "similar-stack",
			Severity: SeverityInfo,
			Message: fmt.Sprintf("%d threads share %d leading frame(s) from %s",
				len(g.Threads), g.PrefixLength, g.Prefix[0].Qualified()),
		})
	}

	if len(report.Groups) == 0 {
		res.Summary = "no similar stacks"
	} else {
		res.Summary = fmt.Sprintf("%d similar-stack group(s)", len(report.Groups))
	}
	return res
}

// commonPrefix returns the longest leading run of equal frames.
func commonPrefix(a, b []parser.StackFrame) []parser.StackFrame {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}
