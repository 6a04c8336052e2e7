package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/tanq16/danzo-agent/internal/utils"
)

// FormatSpeed formats an average transfer rate.
func FormatSpeed(bytes int64, elapsed float64) string {
	if elapsed <= 0 || bytes <= 0 {
		return "0 B/s"
	}
	return utils.FormatBytes(uint64(float64(bytes)/elapsed)) + "/s"
}

// progressBar renders current/total. An unknown total renders an empty bar.
func progressBar(current, total int64, width int) string {
	if width <= 0 {
		width = barWidth
	}
	percent := 0.0
	if total > 0 {
		percent = float64(max(0, min(current, total))) / float64(total)
	}
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	bar += strings.Repeat(" ", width-filled)
	bar += StyleSymbols["bullet"]
	if total <= 0 {
		return debugStyle.Render(fmt.Sprintf("%s ?%% %s ", bar, StyleSymbols["bullet"]))
	}
	return debugStyle.Render(fmt.Sprintf("%s %.1f%% %s ", bar, percent*100, StyleSymbols["bullet"]))
}

// isTerminal reports whether w is an interactive terminal worth redrawing.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalHeight(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if _, height, err := term.GetSize(int(f.Fd())); err == nil && height > 0 {
			return height
		}
	}
	return 24
}
