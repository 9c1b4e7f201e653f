package output

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/Alain-L/threadscope/analysis"
)

// YAMLRenderer writes the result tree as YAML.
type YAMLRenderer struct{}

// Name returns "yaml".
func (r *YAMLRenderer) Name() string { return "yaml" }

// Render writes the result tree to w.
func (r *YAMLRenderer) Render(w io.Writer, res *analysis.Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(res); err != nil {
		return err
	}
	return enc.Close()
}
