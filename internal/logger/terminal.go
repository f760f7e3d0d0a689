package logger

import (
	"io"
	"os"

	"golang.org/x/term"
)

// supportsColor reports whether w is an interactive terminal.
func supportsColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
