package analysis

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

// Renderer converts a markdown analysis into HTML for browser display.
type Renderer interface {
	Render(markdown string) (string, error)
}

// MarkdownRenderer renders CommonMark through goldmark. Raw HTML in model
// output is not passed through.
type MarkdownRenderer struct {
	md goldmark.Markdown
}

var _ Renderer = (*MarkdownRenderer)(nil)

// NewMarkdownRenderer returns a renderer with goldmark's default CommonMark
// configuration.
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{md: goldmark.New()}
}

// Render implements [Renderer].
func (r *MarkdownRenderer) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("analysis: render markdown: %w", err)
	}
	return buf.String(), nil
}
