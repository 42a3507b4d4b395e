package output

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ProgressBar renders current/total as a bar of the given width. A total of -1
// renders a byte counter instead, since there is nothing to fill.
func ProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if current < 0 {
		current = 0
	}
	if total < 0 {
		return debugStyle.Render(fmt.Sprintf("%s %s received %s ", StyleSymbols["bullet"], formatBytes(current), StyleSymbols["bullet"]))
	}
	if total == 0 {
		total, current = 1, 1
	}
	if current > total {
		current = total
	}
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%% %s ", bar, percent*100, StyleSymbols["bullet"]))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatSpeed(n int64, elapsed float64) string {
	if elapsed <= 0 {
		return "0 B/s"
	}
	return formatBytes(int64(float64(n)/elapsed)) + "/s"
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func getTerminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return 24
	}
	return height
}
