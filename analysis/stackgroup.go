package analysis

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/Alain-L/threadscope/parser"
)

// AnalyzerStackGroup is the exact stack grouping analyzer's name.
const AnalyzerStackGroup = "stack-group"

// CategoryIOConvoy flags a large group of threads all blocked in the
// same I/O primitive.
const CategoryIOConvoy = "io-convoy"

// ioConvoyGroupSize is the group size at which an I/O-blocked stack
// group escalates to a warning.
const ioConvoyGroupSize = 10

// StackFingerprint hashes a stack into a stable grouping key. The hash
// covers class, method, file, line and the native marker of every frame;
// lock addresses never enter it, so the key survives address churn.
func StackFingerprint(stack []parser.StackFrame) string {
	h := xxhash.New()
	for _, f := range stack {
		h.WriteString(f.ClassName)
		h.WriteString("\x00")
		h.WriteString(f.MethodName)
		h.WriteString("\x00")
		h.WriteString(f.FileName)
		h.WriteString("\x00")
		h.WriteString(strconv.Itoa(f.LineNumber))
		if f.Native {
			h.WriteString("\x00n")
		}
		h.WriteString("\x01")
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// StackGroup is a set of threads sharing a byte-identical stack.
type StackGroup struct {
	// Fingerprint is the stack's hash key.
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`

	// Threads holds the member names in input order.
	Threads []string `json:"threads" yaml:"threads"`

	// Frames is the shared stack, deepest frame first.
	Frames []parser.StackFrame `json:"frames" yaml:"frames"`

	// IOBlocked is true when the shared stack sits in a known I/O call.
	IOBlocked bool `json:"io_blocked" yaml:"io_blocked"`
}

// StackGroupReport is the exact grouping analyzer's typed payload.
type StackGroupReport struct {
	// Groups is ranked by size descending, then by first member name.
	Groups []StackGroup `json:"groups" yaml:"groups"`
}

// stackGroupAnalyzer groups the latest snapshot's threads by exact stack
// equality. Many threads on one identical stack usually means a convoy:
// they all queue on the same resource.
type stackGroupAnalyzer struct{}

// NewStackGroupAnalyzer returns the exact stack grouping analyzer.
func NewStackGroupAnalyzer() Analyzer { return stackGroupAnalyzer{} }

func (stackGroupAnalyzer) Name() string                    { return AnalyzerStackGroup }
func (stackGroupAnalyzer) Priority() int                   { return 70 }
func (stackGroupAnalyzer) RequiresMultipleSnapshots() bool { return false }
func (stackGroupAnalyzer) RequiresProfile() bool           { return false }

func (a stackGroupAnalyzer) Analyze(ctx context.Context, ac *Context) *Result {
	res := newResult(AnalyzerStackGroup, ac.Timestamp())
	report := &StackGroupReport{}
	res.Data = report

	if len(ac.Snapshots) == 0 {
		res.Summary = "no snapshots"
		return res
	}

	last := len(ac.Snapshots) - 1
	groups := make(map[string]*StackGroup)
	var order []string

	for _, t := range ac.VisibleThreads(last) {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		if len(t.Stack) == 0 {
			continue
		}
		key := StackFingerprint(t.Stack)
		g, ok := groups[key]
		if !ok {
			g = &StackGroup{
				Fingerprint: key,
				Frames:      t.Stack,
				IOBlocked:   classifyIO(t.Stack) != IONone,
			}
			groups[key] = g
			order = append(order, key)
		}
		g.Threads = append(g.Threads, t.Name)
	}

	for _, key := range order {
		g := groups[key]
		if len(g.Threads) < ac.Options.MinStackGroupSize {
			continue
		}
		report.Groups = append(report.Groups, *g)
	}
	sort.SliceStable(report.Groups, func(i, j int) bool {
		if len(report.Groups[i].Threads) != len(report.Groups[j].Threads) {
			return len(report.Groups[i].Threads) > len(report.Groups[j].Threads)
		}
		return report.Groups[i].Threads[0] < report.Groups[j].Threads[0]
	})

	for _, g := range report.Groups {
		if g.IOBlocked && len(g.Threads) >= ioConvoyGroupSize {
			res.AddFinding(Finding{
				Category: CategoryIOConvoy,
				Severity: SeverityWarning,
				Message: fmt.Sprintf("%d threads share one I/O-blocked stack (%s)",
					len(g.Threads), g.Frames[0].Qualified()),
			})
		} else {
			res.AddFinding(Finding{
				Category: "stack-group",
				Severity: SeverityInfo,
				Message:  fmt.Sprintf("%d threads share a stack topped by %s", len(g.Threads), g.Frames[0].Qualified()),
			})
		}
	}

	if len(report.Groups) == 0 {
		res.Summary = "no repeated stacks"
	} else {
		res.Summary = fmt.Sprintf("%d stack group(s), largest %d threads",
			len(report.Groups), len(report.Groups[0].Threads))
	}
	return res
}
