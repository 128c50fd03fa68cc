package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// statusColumn is the width messages are padded to before the status marker
const statusColumn = 70

// Printer writes step-by-step progress for the CLI. Colours are only used
// when the destination is a terminal and NO_COLOR is unset.
type Printer struct {
	w     io.Writer
	color bool

	ok      lipgloss.Style
	fail    lipgloss.Style
	warn    lipgloss.Style
	heading lipgloss.Style
	muted   lipgloss.Style
}

// New creates a printer for w, detecting colour support
func New(w io.Writer) *Printer {
	return newPrinter(w, ColorEnabled(w))
}

// NewPlain creates a printer that never emits escape sequences
func NewPlain(w io.Writer) *Printer {
	return newPrinter(w, false)
}

func newPrinter(w io.Writer, color bool) *Printer {
	r := lipgloss.NewRenderer(w)
	if color {
		r.SetColorProfile(termenv.ANSI)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Printer{
		w:       w,
		color:   color,
		ok:      r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		fail:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		warn:    r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		heading: r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// ColorEnabled reports whether w is a terminal that should receive colours
func ColorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Writer returns the underlying destination
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Success prints msg followed by an [OK] marker
func (p *Printer) Success(msg string) {
	p.status(msg, p.ok.Render("[OK]"))
}

// Fail prints msg followed by a [FAIL] marker
func (p *Printer) Fail(msg string) {
	p.status(msg, p.fail.Render("[FAIL]"))
}

// Warn prints msg followed by a [WARN] marker
func (p *Printer) Warn(msg string) {
	p.status(msg, p.warn.Render("[WARN]"))
}

// Skip prints msg followed by a [SKIP] marker
func (p *Printer) Skip(msg string) {
	p.status(msg, p.muted.Render("[SKIP]"))
}

func (p *Printer) status(msg, marker string) {
	fmt.Fprintf(p.w, "%-*s%s\n", statusColumn, msg, marker)
}

// Heading prints a bold section title
func (p *Printer) Heading(title string) {
	fmt.Fprintln(p.w, p.heading.Render(title))
}

// Infof prints an unstyled line
func (p *Printer) Infof(format string, args ...interface{}) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Mutedf prints a dimmed line
func (p *Printer) Mutedf(format string, args ...interface{}) {
	fmt.Fprintln(p.w, p.muted.Render(fmt.Sprintf(format, args...)))
}

// Table prints rows aligned under a bold header
func (p *Printer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	fmt.Fprintln(p.w, p.heading.Render(joinPadded(headers, widths)))
	for _, row := range rows {
		fmt.Fprintln(p.w, joinPadded(row, widths))
	}
}

func joinPadded(cells []string, widths []int) string {
	var b strings.Builder
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		b.WriteString(cell)
		if i < len(cells)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
		}
	}
	return b.String()
}
