// Package render formats execution results, command availability and
// instruction documents for the terminal.
package render

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	colorPass = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMute = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	colorAcc  = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

const (
	iconPass = "✓"
	iconWarn = "⚠"
	iconFail = "✗"
	iconSkip = "-"
)

// Styles binds the palette to one output writer so color is only emitted when
// that writer supports it.
type Styles struct {
	Pass   lipgloss.Style
	Warn   lipgloss.Style
	Fail   lipgloss.Style
	Muted  lipgloss.Style
	Accent lipgloss.Style
	Header lipgloss.Style
}

// NewStyles detects the color profile of w.
func NewStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)
	return Styles{
		Pass:   r.NewStyle().Foreground(colorPass),
		Warn:   r.NewStyle().Foreground(colorWarn),
		Fail:   r.NewStyle().Foreground(colorFail),
		Muted:  r.NewStyle().Foreground(colorMute),
		Accent: r.NewStyle().Foreground(colorAcc),
		Header: r.NewStyle().Bold(true).Foreground(colorAcc),
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of w, or fallback when it has none.
func Width(w io.Writer, fallback int) int {
	f, ok := w.(*os.File)
	if !ok {
		return fallback
	}
	if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
		return width
	}
	return fallback
}
