package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the goplan banner, colored when the terminal supports it.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	lines := []struct {
		text  string
		color string
	}{
		{`                    _             `, "#38bdf8"},
		{`   __ _  ___  _ __ | | __ _ _ __  `, "#22d3ee"},
		{`  / _' |/ _ \| '_ \| |/ _' | '_ \ `, "#2dd4bf"},
		{` | (_| | (_) | |_) | | (_| | | | |`, "#34d399"},
		{`  \__, |\___/| .__/|_|\__,_|_| |_|`, "#4ade80"},
		{`  |___/      |_|                  `, "#a3e635"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintf(w, "  %s\n\n", out.String("travel planner "+version).Faint())
}
