package output

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// Printer writes one-line fetch results. Styling is applied only when
// the destination is a terminal.
type Printer struct {
	w      io.Writer
	styled bool
}

func New(w io.Writer) *Printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &Printer{w: w, styled: styled}
}

func (p *Printer) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

// Success prints "<name> <outcome> (<size>)" with an optional detail such
// as the number of bytes received.
func (p *Printer) Success(name, outcome string, size, received uint64) {
	detail := humanize.IBytes(size)
	if received > 0 && received != size {
		detail += ", received " + humanize.IBytes(received)
	}
	fmt.Fprintf(p.w, "%s %s %s %s\n",
		p.render(okStyle, "ok"), name, outcome, p.render(dimStyle, "("+detail+")"))
}

func (p *Printer) Failure(name string, err error) {
	fmt.Fprintf(p.w, "%s %s: %v\n", p.render(failStyle, "failed"), name, err)
}
