package ui

import "unicode/utf8"

// ShortID returns the first eight runes of an attempt ID. uuid attempt IDs
// are unwieldy in table and log output; the leading segment is enough to
// tell attempts apart by eye.
func ShortID(id string) string {
	const max = 8
	if utf8.RuneCountInString(id) <= max {
		return id
	}
	return string([]rune(id)[:max])
}
