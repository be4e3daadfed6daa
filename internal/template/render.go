package template

import (
	"github.com/foxzi/leadmail/internal/metrics"
	"github.com/foxzi/leadmail/internal/placeholder"
)

// Renderer substitutes placeholders with lead data and custom values
type Renderer struct {
	registry *placeholder.Registry
}

// NewRenderer creates a renderer classifying tokens against registry
func NewRenderer(registry *placeholder.Registry) *Renderer {
	return &Renderer{registry: registry}
}

// Render produces the final subject and body. Auto placeholders are read
// from lead, everything else from custom; missing keys render as "".
// The template is not modified.
func (r *Renderer) Render(t *Template, lead, custom map[string]string) Rendered {
	metrics.IncRenders()
	return Rendered{
		Subject: r.RenderText(t.SubjectText(), lead, custom),
		Body:    r.RenderText(t.Body, lead, custom),
	}
}

// RenderText substitutes the tokens of a single text
func (r *Renderer) RenderText(text string, lead, custom map[string]string) string {
	return placeholder.Replace(text, func(name string) string {
		if r.registry.IsAuto(name) {
			return lead[name]
		}
		return custom[name]
	})
}
