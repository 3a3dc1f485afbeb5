package asm

import (
	"fmt"
	"strconv"
	"unicode"
)

// ---------------------------------------------------------------------------
// Line splitting
// ---------------------------------------------------------------------------

// field is one whitespace-separated word of a source line. Quoted fields
// are unescaped with Go string syntax.
type field struct {
	text   string
	quoted bool
	col    int // 1-based
}

// splitLine breaks a line into fields. A '#' outside a string starts a
// comment that runs to the end of the line.
func splitLine(line string) ([]field, error) {
	var fields []field
	runes := []rune(line)
	for pos := 0; pos < len(runes); {
		ch := runes[pos]
		switch {
		case unicode.IsSpace(ch):
			pos++

		case ch == '#':
			return fields, nil

		case ch == '"':
			start := pos
			pos++
			for pos < len(runes) && runes[pos] != '"' {
				if runes[pos] == '\\' {
					pos++
				}
				pos++
			}
			if pos >= len(runes) {
				return nil, fmt.Errorf("column %d: unterminated string", start+1)
			}
			pos++
			s, err := strconv.Unquote(string(runes[start:pos]))
			if err != nil {
				return nil, fmt.Errorf("column %d: bad string literal: %w", start+1, err)
			}
			fields = append(fields, field{text: s, quoted: true, col: start + 1})

		default:
			start := pos
			for pos < len(runes) && !unicode.IsSpace(runes[pos]) && runes[pos] != '#' && runes[pos] != '"' {
				pos++
			}
			fields = append(fields, field{text: string(runes[start:pos]), col: start + 1})
		}
	}
	return fields, nil
}

// isLabel reports whether f declares a label ("name:").
func (f field) isLabel() bool {
	return !f.quoted && len(f.text) > 1 && f.text[len(f.text)-1] == ':'
}
