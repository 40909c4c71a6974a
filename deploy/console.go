package deploy

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

const rule = "============================================"

var (
	blue   = color.New(color.FgBlue)
	yellow = color.New(color.FgYellow, color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
)

// console prints operator-facing progress. Diagnostics go to the logger.
type console struct {
	w io.Writer
}

func (c console) banner(title string) {
	blue.Fprintln(c.w, rule)
	blue.Fprintf(c.w, "  %s\n", title)
	blue.Fprintln(c.w, rule)
	fmt.Fprintln(c.w)
}

func (c console) step(n, total int, format string, a ...interface{}) {
	yellow.Fprintf(c.w, "Step %d/%d: %s\n", n, total, fmt.Sprintf(format, a...))
}

func (c console) heading(format string, a ...interface{}) {
	yellow.Fprintf(c.w, format+"\n", a...)
}

func (c console) ok(format string, a ...interface{}) {
	green.Fprintf(c.w, "✅ "+format+"\n\n", a...)
}

func (c console) fail(format string, a ...interface{}) {
	red.Fprintf(c.w, "❌ "+format+"\n", a...)
}

func (c console) warn(format string, a ...interface{}) {
	red.Fprintf(c.w, "⚠️  "+format+"\n", a...)
}

func (c console) line(format string, a ...interface{}) {
	fmt.Fprintf(c.w, format+"\n", a...)
}

// output echoes captured remote output, skipping it entirely when empty.
func (c console) output(s string) {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return
	}
	fmt.Fprintln(c.w, s)
}

func (c console) link(label, url string) {
	green.Fprintf(c.w, "%-17s", label+":")
	fmt.Fprintf(c.w, " %s\n", url)
}
