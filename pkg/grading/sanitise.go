package grading

import (
	"fmt"
	"strings"
)

const (
	// MaxStringLength bounds every expected/got string stored in a TestResult.
	MaxStringLength = 8000
	SnipMarker      = " ...snip... "
)

// Sanitise replaces every byte outside printable ASCII, other than newline,
// with a \xHH escape. It works on raw bytes, never on decoded runes.
func Sanitise(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if (c < ' ' && c != '\n') || c > '~' {
			fmt.Fprintf(&b, "\\x%02x", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Snip limits s to MaxStringLength bytes by cutting out its centre and
// putting SnipMarker in its place.
func Snip(s string) string {
	if len(s) <= MaxStringLength {
		return s
	}
	removed := len(s) - MaxStringLength + len(SnipMarker)
	half := (len(s) - removed) / 2
	return s[:half] + SnipMarker + s[len(s)-half:]
}

func displayable(s string) string {
	return Snip(Sanitise(s))
}
