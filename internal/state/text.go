package state

import "strings"

// Offset converts p into a byte offset in text. Characters count UTF-16 code
// units, the same unit editors report. Positions past the end of a line clamp
// to the line end; lines past the end of the text clamp to len(text).
func Offset(text string, p Position) int {
	lines := strings.Split(text, "\n")
	row := p.Line - 1
	if row < 0 {
		row = 0
	}
	if row >= len(lines) {
		return len(text)
	}

	offset := 0
	for i := 0; i < row; i++ {
		offset += len(lines[i]) + 1
	}

	line := lines[row]
	col := len(line)
	units := 0
	for i, r := range line {
		n := 1
		if r > 0xFFFF {
			n = 2
		}
		if units+n > p.Character {
			col = i
			break
		}
		units += n
	}
	return offset + col
}

// ApplyEdit replaces r in text with replacement.
func ApplyEdit(text string, r Range, replacement string) string {
	start := Offset(text, r.Start)
	end := Offset(text, r.End)
	if end < start {
		start, end = end, start
	}
	return text[:start] + replacement + text[end:]
}
