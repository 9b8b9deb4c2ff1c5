package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the glimpse banner to w.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"        _ _                          ", "#38bdf8"},
		{"   __ _| (_)_ __ ___  _ __  ___  ___ ", "#22d3ee"},
		{"  / _` | | | '_ ` _ \\| '_ \\/ __|/ _ \\", "#2dd4bf"},
		{" | (_| | | | | | | | | |_) \\__ \\  __/", "#34d399"},
		{"  \\__, |_|_|_| |_| |_| .__/|___/\\___|", "#4ade80"},
		{"  |___/              |_|             ", "#a3e635"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
