package output

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

func ProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		total = 1
	}
	if current < 0 {
		current = 0
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
	return debugStyle.Render(fmt.Sprintf("%s %.1f%%", bar, percent*100))
}

// IndeterminateBar renders activity without a known total.
func IndeterminateBar(downloadedLabel string) string {
	return debugStyle.Render(fmt.Sprintf("%s %s %s", StyleSymbols["bullet"], downloadedLabel, StyleSymbols["arrow"]))
}

func getTerminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return 24
	}
	return height
}

func statusIndicator(status string) string {
	switch status {
	case "completed":
		return successStyle.Render(StyleSymbols["pass"])
	case "failed":
		return errorStyle.Render(StyleSymbols["fail"])
	case "paused":
		return warningStyle.Render(StyleSymbols["warning"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	case "cancelled":
		return debugStyle.Render(StyleSymbols["dot"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}
