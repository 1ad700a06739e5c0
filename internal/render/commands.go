package render

import (
	"io"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/zjrosen/sddrun/internal/sdd"
)

// Commands writes one row per command showing what the scaffold provides.
// Paths are shown relative to projectRoot when possible.
func Commands(w io.Writer, projectRoot string, resolutions []sdd.Resolution) error {
	s := NewStyles(w)

	rows := make([][]string, 0, len(resolutions))
	for _, res := range resolutions {
		var status, source string
		switch res.Kind {
		case sdd.Resolved:
			status = s.Pass.Render(iconPass + " script")
			source = relative(projectRoot, res.ScriptPath)
		case sdd.Documented:
			status = s.Warn.Render(iconWarn + " instructions")
			source = relative(projectRoot, res.InstructionPath)
		default:
			status = s.Muted.Render(iconSkip + " none")
		}
		rows = append(rows, []string{res.Command.String(), status, source})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(s.Muted).
		Headers("COMMAND", "PROVIDES", "SOURCE").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.Header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	_, err := io.WriteString(w, t.Render()+"\n")
	return err
}

func relative(root, path string) string {
	if path == "" {
		return ""
	}
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}
