package output

import (
	"fmt"
	"io"

	"github.com/Alain-L/threadscope/analysis"
)

// MarkdownRenderer writes the result tree as a Markdown report with one
// section per analyzer and findings as tables.
type MarkdownRenderer struct{}

// Name returns "markdown".
func (r *MarkdownRenderer) Name() string { return "markdown" }

// Render writes the report.
func (r *MarkdownRenderer) Render(w io.Writer, res *analysis.Result) error {
	fmt.Fprintf(w, "# Thread dump analysis\n\n")
	fmt.Fprintf(w, "**%s** — severity `%s`\n", res.Summary, res.Severity)

	for _, child := range res.Children {
		r.renderSection(w, child, 2)
	}
	if len(res.Findings) > 0 {
		findingsTable(w, res.Findings)
	}
	return nil
}

func (r *MarkdownRenderer) renderSection(w io.Writer, res *analysis.Result, level int) {
	fmt.Fprintf(w, "\n%s %s\n\n", heading(level), res.Analyzer)
	fmt.Fprintf(w, "%s — severity `%s`\n", res.Summary, res.Severity)

	if v, ok := res.Data.(*analysis.VerdictReport); ok {
		d := v.TimeDistribution
		fmt.Fprintf(w, "\n| running | blocked | waiting | io | gc |\n")
		fmt.Fprintf(w, "|---|---|---|---|---|\n")
		fmt.Fprintf(w, "| %.1f%% | %.1f%% | %.1f%% | %.1f%% | %.1f%% |\n",
			d.RunningPercent, d.BlockedPercent, d.WaitingPercent, d.IOPercent, d.GCPercent)
		if ev := v.Evolution; ev != nil {
			fmt.Fprintf(w, "\nTrend: **%s** (%+d)\n", ev.Trend, ev.ScoreChange)
		}
	}

	if len(res.Findings) > 0 {
		findingsTable(w, res.Findings)
	}
	for _, child := range res.Children {
		r.renderSection(w, child, level+1)
	}
}

func findingsTable(w io.Writer, findings []analysis.Finding) {
	fmt.Fprintf(w, "\n| severity | category | message |\n")
	fmt.Fprintf(w, "|---|---|---|\n")
	for _, f := range findings {
		fmt.Fprintf(w, "| %s | %s | %s |\n", f.Severity, f.Category, f.Message)
	}
}

func heading(level int) string {
	s := ""
	for i := 0; i < level; i++ {
		s += "#"
	}
	return s
}
