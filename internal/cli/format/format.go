// Package format renders engine diagnostics for the terminal, styled when
// stderr is a TTY and plain otherwise.
package format

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/conveyor-ci/conveyor/pkg/errors"
)

var (
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	locationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle      = lipgloss.NewStyle().Faint(true)
)

// IsTTY reports whether the writer is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// PrintError writes a diagnostic to w: the full styled rendering for
// enhanced errors on a TTY, the plain rendering otherwise.
func PrintError(w io.Writer, err error) {
	if err == nil {
		return
	}

	enhanced := errors.Enhance("CNV-0001", err)
	if !IsTTY(w) {
		fmt.Fprintln(w, enhanced.Render())
		return
	}
	fmt.Fprintln(w, renderStyled(enhanced))
}

// renderStyled is the TTY rendering: the header, location, source context,
// hints and cause of EnhancedError.Render, with severity, location and hints
// colorized. Metadata is not shown.
func renderStyled(e *errors.EnhancedError) string {
	var b strings.Builder

	sev := e.Severity
	if sev == "" {
		sev = errors.SeverityError
	}
	header := fmt.Sprintf("%s[%s]: %s", sev, e.Code, e.Message)
	if e.Code == "" {
		header = fmt.Sprintf("%s: %s", sev, e.Message)
	}
	switch sev {
	case errors.SeverityWarning:
		b.WriteString(warnStyle.Render(header))
	default:
		b.WriteString(errorStyle.Render(header))
	}
	b.WriteString("\n")

	if !e.Location.IsZero() {
		b.WriteString("  " + locationStyle.Render("--> "+e.Location.String()) + "\n")
	}
	if e.SourceContext != "" {
		for _, line := range strings.Split(strings.TrimRight(e.SourceContext, "\n"), "\n") {
			b.WriteString("   " + line + "\n")
		}
	}
	for _, s := range e.Suggestions {
		b.WriteString("  " + hintStyle.Render("hint: "+s) + "\n")
	}
	if e.Cause != nil {
		b.WriteString("  " + dimStyle.Render(fmt.Sprintf("caused by: %v", e.Cause)) + "\n")
	}
	return b.String()
}
