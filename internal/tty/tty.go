// Package tty decides whether the sink should colour its gap markers:
// --color always/never are explicit; auto defers to whether stdout is a
// terminal.
package tty

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Mode mirrors the --color flag's three settings.
type Mode string

const (
	Auto   Mode = "auto"
	Always Mode = "always"
	Never  Mode = "never"
)

// Enabled resolves Mode against whether out is a terminal.
func Enabled(mode Mode, out *os.File) bool {
	switch mode {
	case Always:
		return true
	case Never:
		return false
	default:
		return isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
	}
}

// GapMarker renders a gap-marker line, coloured yellow when enabled.
func GapMarker(text string, enabled bool) string {
	if !enabled {
		return text
	}
	return color.YellowString("%s", text)
}
