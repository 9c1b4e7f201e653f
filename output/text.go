package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Alain-L/threadscope/analysis"
)

// defaultWidth is used when stdout is not a terminal.
const defaultWidth = 100

// TextRenderer writes a sectioned plain-text report, one section per
// analyzer in priority order, the verdict first.
type TextRenderer struct {
	// Width overrides the detected terminal width when > 0.
	Width int
}

// Name returns "text".
func (r *TextRenderer) Name() string { return "text" }

// Render writes the report.
func (r *TextRenderer) Render(w io.Writer, res *analysis.Result) error {
	width := r.Width
	if width <= 0 {
		width = terminalWidth()
	}

	writeRule(w, width)
	fmt.Fprintf(w, "%s  [%s]\n", res.Summary, res.Severity)
	writeRule(w, width)

	for _, child := range res.Children {
		r.renderSection(w, child, width)
	}
	for _, f := range res.Findings {
		writeFinding(w, f)
	}
	return nil
}

func (r *TextRenderer) renderSection(w io.Writer, res *analysis.Result, width int) {
	fmt.Fprintf(w, "\n%s  [%s]\n", strings.ToUpper(res.Analyzer), res.Severity)
	fmt.Fprintf(w, "  %s\n", res.Summary)

	switch data := res.Data.(type) {
	case *analysis.VerdictReport:
		r.renderVerdict(w, data)
	case *analysis.ProgressReport:
		r.renderProgress(w, data)
	case *analysis.IOBlockReport:
		r.renderIO(w, data)
	}

	for _, f := range res.Findings {
		writeFinding(w, f)
	}
	for _, child := range res.Children {
		r.renderSection(w, child, width)
	}
}

func (r *TextRenderer) renderVerdict(w io.Writer, v *analysis.VerdictReport) {
	d := v.TimeDistribution
	fmt.Fprintf(w, "  threads: %.1f%% running, %.1f%% blocked, %.1f%% waiting, %.1f%% io, %.1f%% gc\n",
		d.RunningPercent, d.BlockedPercent, d.WaitingPercent, d.IOPercent, d.GCPercent)
	if ev := v.Evolution; ev != nil {
		fmt.Fprintf(w, "  health: %s (%+d)", ev.Trend, ev.ScoreChange)
		for _, s := range ev.Scores {
			fmt.Fprintf(w, " %d", s.Score)
		}
		fmt.Fprintln(w)
		if len(ev.DegradingCategories) > 0 {
			fmt.Fprintf(w, "  degrading: %s\n", strings.Join(ev.DegradingCategories, ", "))
		}
		if len(ev.ImprovingCategories) > 0 {
			fmt.Fprintf(w, "  improving: %s\n", strings.Join(ev.ImprovingCategories, ", "))
		}
	}
}

func (r *TextRenderer) renderProgress(w io.Writer, p *analysis.ProgressReport) {
	var parts []string
	for _, class := range analysis.ProgressClassOrder {
		if n := p.Summary.Counts[class]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, class))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(w, "  %s\n", strings.Join(parts, ", "))
	}
}

func (r *TextRenderer) renderIO(w io.Writer, p *analysis.IOBlockReport) {
	var parts []string
	for _, t := range analysis.IOTypeOrder {
		if n := p.Counts[t]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, t))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(w, "  %s\n", strings.Join(parts, ", "))
	}
}

func writeFinding(w io.Writer, f analysis.Finding) {
	if f.Details != "" {
		fmt.Fprintf(w, "  [%s] %s (%s)\n", f.Severity, f.Message, f.Details)
		return
	}
	fmt.Fprintf(w, "  [%s] %s\n", f.Severity, f.Message)
}

func writeRule(w io.Writer, width int) {
	fmt.Fprintln(w, strings.Repeat("=", width))
}

// terminalWidth returns the stdout terminal width, defaultWidth when
// stdout is not a terminal or the size cannot be read.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}
