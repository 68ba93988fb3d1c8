package ui

// TruncateWithEllipsis caps s at maxRunes and marks the cut with an
// ellipsis. Used to keep long source URLs and paths from wrapping table
// rows. A non-positive limit yields an empty string.
func TruncateWithEllipsis(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "…"
}
