// Package markup provides the stateless rendering collaborators used for
// outbound messages: template expansion and rich-text to provider-markup
// conversion.
package markup

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"text/template"
)

// TemplateContext is the data available to outbound text templates.
type TemplateContext struct {
	AuthorName string
	Body       string
}

// Render expands an outbound text template with the given context.
func Render(templateSource string, ctx TemplateContext) (string, error) {
	tmpl, err := template.New("outbound").Parse(templateSource)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return buf.String(), nil
}

type conversion struct {
	pattern *regexp.Regexp
	repl    string
}

var tagConversions = []conversion{
	{regexp.MustCompile(`(?is)<b>(.*?)</b>`), "*$1*"},
	{regexp.MustCompile(`(?is)<strong>(.*?)</strong>`), "*$1*"},
	{regexp.MustCompile(`(?is)<i>(.*?)</i>`), "_${1}_"},
	{regexp.MustCompile(`(?is)<em>(.*?)</em>`), "_${1}_"},
	{regexp.MustCompile(`(?is)<s>(.*?)</s>`), "~$1~"},
	{regexp.MustCompile(`(?is)<strike>(.*?)</strike>`), "~$1~"},
	{regexp.MustCompile(`(?is)<del>(.*?)</del>`), "~$1~"},
	{regexp.MustCompile(`(?is)<u>(.*?)</u>`), "_${1}_"},
	{regexp.MustCompile(`(?i)<br\s*/?>`), "\n"},
}

var (
	paragraphBreakRe = regexp.MustCompile(`(?i)</p>\s*<p[^>]*>`)
	paragraphRe      = regexp.MustCompile(`(?is)<p[^>]*>(.*?)</p>`)
	anyTagRe         = regexp.MustCompile(`<[^>]*>`)
	excessBreaksRe   = regexp.MustCompile(`\n{3,}`)
	edgeSpaceRe      = regexp.MustCompile(`^\s+|\s+$`)
)

// HTMLToProviderMarkup converts basic HTML to the inline markup chat
// providers understand: bold/italic/strikethrough/underline become sigils,
// paragraphs are joined with blank lines, remaining tags are stripped and
// entities decoded. Already-plain text passes through unchanged, so the
// conversion is idempotent.
func HTMLToProviderMarkup(htmlText string) string {
	if htmlText == "" {
		return ""
	}

	text := htmlText
	for _, c := range tagConversions {
		text = c.pattern.ReplaceAllString(text, c.repl)
	}

	// Paragraphs: blank line between blocks, then unwrap
	text = paragraphBreakRe.ReplaceAllString(text, "\n\n")
	text = paragraphRe.ReplaceAllString(text, "$1")

	// Strip remaining HTML and decode entities
	text = anyTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	// Compress 3+ line breaks to 2
	text = excessBreaksRe.ReplaceAllString(text, "\n\n")
	return edgeSpaceRe.ReplaceAllString(text, "")
}

var strikeParagraphRe = regexp.MustCompile(`(?is)(<p[^>]*>)(.*?)(</p>)`)

// AddStrikethrough wraps the content of every paragraph in <s> tags. Used
// when a provider reports a message deletion: the body is struck through
// rather than removed, preserving history.
func AddStrikethrough(htmlBody string) string {
	if !strikeParagraphRe.MatchString(htmlBody) {
		return "<s>" + htmlBody + "</s>"
	}
	return strikeParagraphRe.ReplaceAllString(htmlBody, "$1<s>$2</s>$3")
}
