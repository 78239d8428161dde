// Package templating substitutes request variables into HTML with logic-less
// mustache templates.
package templating

import (
	"fmt"

	"github.com/cbroglie/mustache"

	"pdfapi/internal/domain"
)

// Renderer compiles and renders templates. The zero value is ready to use.
type Renderer struct{}

// Render compiles tmpl and renders it against vars. Unresolved references
// render as the empty string; {{name}} is HTML-escaped, {{{name}}} is not.
func (Renderer) Render(tmpl string, vars map[string]any) (string, error) {
	t, err := mustache.ParseString(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTemplate, err)
	}
	if vars == nil {
		vars = map[string]any{}
	}
	out, err := t.Render(vars)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTemplate, err)
	}
	return out, nil
}
