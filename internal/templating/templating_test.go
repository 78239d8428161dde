package templating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfapi/internal/domain"
)

func TestRender_Substitutes(t *testing.T) {
	var r Renderer
	out, err := r.Render("<p>Hello {{name}}</p>", map[string]any{"name": "World"})
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello World</p>", out)
}

func TestRender_MissingVariablesRenderEmpty(t *testing.T) {
	var r Renderer
	out, err := r.Render("<p>{{greeting}} {{name}}!</p>", map[string]any{"name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "<p> Ann!</p>", out)

	out, err = r.Render("<p>{{name}}</p>", nil)
	require.NoError(t, err)
	assert.Equal(t, "<p></p>", out)
}

func TestRender_EscapesByDefault(t *testing.T) {
	var r Renderer
	vars := map[string]any{"v": "<b>x</b>"}

	out, err := r.Render("{{v}}", vars)
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;x&lt;/b&gt;", out)

	out, err = r.Render("{{{v}}}", vars)
	require.NoError(t, err)
	assert.Equal(t, "<b>x</b>", out)
}

func TestRender_SectionsAndNestedValues(t *testing.T) {
	var r Renderer
	vars := map[string]any{
		"items":    []any{map[string]any{"n": "a"}, map[string]any{"n": "b"}},
		"customer": map[string]any{"name": "ACME"},
		"total":    42,
	}
	out, err := r.Render("{{customer.name}}:{{#items}}[{{n}}]{{/items}}={{total}}", vars)
	require.NoError(t, err)
	assert.Equal(t, "ACME:[a][b]=42", out)
}

func TestRender_PlainHTMLUnchanged(t *testing.T) {
	var r Renderer
	html := "<html><body><h1>Static</h1></body></html>"
	out, err := r.Render(html, map[string]any{"unused": 1})
	require.NoError(t, err)
	assert.Equal(t, html, out)
}

func TestRender_MalformedTemplate(t *testing.T) {
	var r Renderer
	_, err := r.Render("{{#open}} never closed", nil)
	assert.ErrorIs(t, err, domain.ErrTemplate)
}
