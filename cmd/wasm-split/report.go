package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/wasm-split/split"
)

const defaultWidth = 80

// terminalWidth returns the width of f, or 0 when f is not a terminal.
func terminalWidth(f *os.File) int {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

// printReport writes r to f. On a terminal the header is styled and a
// rule separates it from the table; pipes get plain text.
func printReport(f *os.File, r *split.Report) error {
	width := terminalWidth(f)
	if width > 0 {
		total := 0
		for _, m := range r.Modules {
			total += m.Bytes
		}
		header := titleStyle.Render("Split report") + " " +
			helpStyle.Render(fmt.Sprintf("%d modules, %d chunks, %d bytes", len(r.Modules), len(r.Chunks), total))
		fmt.Fprintln(f, header)
		fmt.Fprintln(f, helpStyle.Render(strings.Repeat("─", min(width, lipgloss.Width(header)+20))))
	}
	return r.WriteText(f)
}
