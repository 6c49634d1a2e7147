package grading

import "strings"

// Clean returns s with trailing blank lines dropped and trailing spaces
// removed from every remaining line. Each line, the last one included, is
// terminated by a newline.
func Clean(s string) string {
	lines := strings.Split(s, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(strings.TrimRight(line, " "))
		b.WriteByte('\n')
	}
	return b.String()
}
