package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/zjrosen/sddrun/internal/sdd"
)

// Result writes a human-readable summary of res followed by the captured
// streams.
func Result(w io.Writer, req sdd.Request, res sdd.Result) error {
	s := NewStyles(w)

	var status string
	switch {
	case res.Simulated():
		status = s.Warn.Render(iconWarn + " simulated")
	case res.Success:
		status = s.Pass.Render(iconPass + " succeeded")
	default:
		status = s.Fail.Render(iconFail + " failed")
	}

	code := "none"
	if c, ok := res.Code(); ok {
		code = fmt.Sprint(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", s.Header.Render(req.Command.String()), s.Muted.Render("task "+req.TaskID), status)
	fmt.Fprintf(&b, "%s %s  %s %s\n",
		s.Muted.Render("exit code:"), code,
		s.Muted.Render("duration:"), res.Duration())
	if msg := res.Message(); msg != "" {
		fmt.Fprintf(&b, "%s %s\n", s.Muted.Render("error:"), s.Fail.Render(msg))
	}
	writeStream(&b, s, "stdout", res.Stdout)
	writeStream(&b, s, "stderr", res.Stderr)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeStream(b *strings.Builder, s Styles, name, text string) {
	if text == "" {
		return
	}
	fmt.Fprintf(b, "\n%s\n", s.Accent.Render("── "+name+" ──"))
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
}
