package ui

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

const barWidth = 30

// ProgressLine renders a single-line progress indicator for terminal output.
// percent is 0-100; a negative value means the total size is unknown and the
// bar is replaced with an activity marker.
func ProgressLine(modelID string, percent int) string {
	if percent < 0 {
		return fmt.Sprintf("%s  [ downloading, size unknown ]", modelID)
	}
	if percent > 100 {
		percent = 100
	}
	filled := barWidth * percent / 100
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)
	return fmt.Sprintf("%s  [%s] %3d%%", modelID, bar, percent)
}

// SizeLabel formats a byte count for table output; unknown sizes render as a dash.
func SizeLabel(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}
