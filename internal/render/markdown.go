package render

import (
	"io"

	"github.com/charmbracelet/glamour"
)

const maxReadableWidth = 100

// Markdown renders an instruction document. Non-terminal writers get the raw
// text so output stays pipeable.
func Markdown(w io.Writer, markdown string) error {
	if !IsTerminal(w) {
		_, err := io.WriteString(w, markdown)
		return err
	}
	_, err := io.WriteString(w, renderMarkdown(markdown, min(Width(w, 80), maxReadableWidth)))
	return err
}

// renderMarkdown falls back to the raw text when glamour fails.
func renderMarkdown(markdown string, width int) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}
