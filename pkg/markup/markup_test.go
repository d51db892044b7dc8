package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	out, err := Render("<p><b>[{{.AuthorName}}]</b></p><p>{{.Body}}</p>", TemplateContext{
		AuthorName: "Alice",
		Body:       "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "<p><b>[Alice]</b></p><p>hello</p>", out)
}

func TestRenderInvalidTemplate(t *testing.T) {
	_, err := Render("{{.Body", TemplateContext{})
	assert.Error(t, err)
}

func TestHTMLToProviderMarkup(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"bold and italic", "<b>X</b> <i>Y</i>", "*X* _Y_"},
		{"strong and em", "<strong>X</strong> <em>Y</em>", "*X* _Y_"},
		{"strikethrough variants", "<s>a</s> <strike>b</strike> <del>c</del>", "~a~ ~b~ ~c~"},
		{"underline maps to italic sigil", "<u>X</u>", "_X_"},
		{"line break", "a<br/>b", "a\nb"},
		{"paragraphs joined with blank line", "<p>one</p><p>two</p>", "one\n\ntwo"},
		{"unknown tags stripped", `<span class="x">hi</span>`, "hi"},
		{"entities decoded", "a &amp; b &lt;c&gt;", "a & b <c>"},
		{"empty input", "", ""},
		{"nested template output", "<p><b>[Alice]</b></p><p>hello</p>", "*[Alice]*\n\nhello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTMLToProviderMarkup(tt.input))
		})
	}
}

func TestHTMLToProviderMarkupIdempotentOnPlainText(t *testing.T) {
	plain := "*X* _Y_ already converted\n\nsecond paragraph"
	once := HTMLToProviderMarkup(plain)
	assert.Equal(t, plain, once)
	assert.Equal(t, once, HTMLToProviderMarkup(once))
}

func TestAddStrikethrough(t *testing.T) {
	assert.Equal(t, "<p><s>hello</s></p>", AddStrikethrough("<p>hello</p>"))
	assert.Equal(t, "<p><s>a</s></p><p><s>b</s></p>", AddStrikethrough("<p>a</p><p>b</p>"))
	assert.Equal(t, "<s>bare text</s>", AddStrikethrough("bare text"))
}
