package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/reviewapps-dev/siteup/internal/activate"
	"github.com/reviewapps-dev/siteup/internal/app"
	"github.com/reviewapps-dev/siteup/internal/deploy"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// colorful reports whether w is a terminal that should get styled output.
func colorful(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type painter struct {
	color bool
}

func (p painter) paint(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p painter) status(st app.Status) string {
	switch st {
	case app.StatusSucceeded:
		return p.paint(okStyle, string(st))
	case app.StatusPartial:
		return p.paint(warnStyle, string(st))
	}
	return p.paint(failStyle, string(st))
}

func (p painter) state(st string) string {
	switch activate.State(st) {
	case activate.Reloaded:
		return p.paint(okStyle, st)
	case deploy.Skipped:
		return p.paint(dimStyle, st)
	case activate.ValidationFailed, deploy.WriteFailed:
		return p.paint(failStyle, st)
	}
	return p.paint(warnStyle, st)
}
