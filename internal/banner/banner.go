// Package banner prints the startup header of the interactive commands.
package banner

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// StartupOpts allows tests to capture output.
// If nil, Startup uses os.Stdout.
type StartupOpts struct {
	Writer io.Writer // if set, use instead of os.Stdout
	Mode   string    // shown after the name, e.g. "chat" or "serve"
}

const art = `
 ┏┳┓┏━┓┏━┓╻  ┏━╸╻ ╻┏━┓╺┳╸
  ┃ ┃ ┃┃ ┃┃  ┃  ┣━┫┣━┫ ┃
  ╹ ┗━┛┗━┛┗━╸┗━╸╹ ╹╹ ╹ ╹ `

var (
	artStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#22D3EE")).Bold(true)
	taglineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#94A3B8"))
)

// Startup prints the banner followed by the version line.
func Startup(version string, opts *StartupOpts) {
	w := io.Writer(os.Stdout)
	mode := ""
	if opts != nil {
		if opts.Writer != nil {
			w = opts.Writer
		}
		mode = opts.Mode
	}
	for _, line := range splitLines(art) {
		fmt.Fprintln(w, artStyle.Render(line))
	}
	tagline := "interactive tools from chat"
	if mode != "" {
		tagline += " · " + mode
	}
	fmt.Fprintf(w, "%s  v%s\n\n", taglineStyle.Render(tagline), version)
}

// splitLines drops the leading newline of a raw string literal.
func splitLines(s string) []string {
	s = strings.TrimPrefix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
