// Package output renders analysis result trees. Renderers are pure
// consumers: they read the tree and its typed payloads and never touch
// the snapshots.
package output

import (
	"io"
	"sort"

	"github.com/Alain-L/threadscope/analysis"
)

// Renderer writes one result tree in one format.
type Renderer interface {
	// Name is the format name used for selection, e.g. "json".
	Name() string

	// Render writes the result tree to w.
	Render(w io.Writer, res *analysis.Result) error
}

// Registry maps format names to renderers. It is populated once at
// startup and read-only afterwards, so lookups are safe concurrently.
type Registry struct {
	renderers map[string]Renderer
	fallback  Renderer
}

// NewRegistry returns a registry with the standard renderers (text,
// json, yaml, markdown) installed and text as the fallback.
func NewRegistry() *Registry {
	r := &Registry{renderers: make(map[string]Renderer)}
	text := &TextRenderer{}
	r.Register(text)
	r.Register(&JSONRenderer{})
	r.Register(&YAMLRenderer{})
	r.Register(&MarkdownRenderer{})
	r.fallback = text
	return r
}

// Register adds or replaces a renderer under its name.
func (r *Registry) Register(re Renderer) {
	r.renderers[re.Name()] = re
}

// Lookup selects the renderer for a format name, falling back to the
// generic text renderer for unknown formats.
func (r *Registry) Lookup(format string) Renderer {
	if re, ok := r.renderers[format]; ok {
		return re
	}
	return r.fallback
}

// Formats lists the registered format names, sorted.
func (r *Registry) Formats() []string {
	names := make([]string, 0, len(r.renderers))
	for name := range r.renderers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
