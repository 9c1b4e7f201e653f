package output

import (
	"encoding/json"
	"io"

	"github.com/Alain-L/threadscope/analysis"
)

// JSONRenderer writes the result tree as indented JSON. The tree's own
// struct tags define the wire shape (analyzer, severity, summary,
// findings, children, data), so the renderer is a thin marshal.
type JSONRenderer struct{}

// Name returns "json".
func (r *JSONRenderer) Name() string { return "json" }

// Render writes the result tree to w.
func (r *JSONRenderer) Render(w io.Writer, res *analysis.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
