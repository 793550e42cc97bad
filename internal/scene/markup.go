package scene

import "strings"

// StripMarkup removes in-world colour markup from formatted text, producing
// the plain form stored alongside every entry for search and export.
//
// Markup uses pipe codes: "|w" etc. switch colour, "|n" resets, "|[x" sets a
// background, and "||" escapes a literal pipe. Unrecognised sequences are
// passed through untouched.
func StripMarkup(text string) string {
	if !strings.ContainsRune(text, '|') {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '|' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(text) {
			b.WriteByte(c)
			break
		}
		next := text[i+1]
		switch {
		case next == '|':
			b.WriteByte('|')
			i++
		case next == '[' && i+2 < len(text) && isMarkupCode(text[i+2]):
			i += 2
		case isMarkupCode(next):
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// isMarkupCode reports whether c is a single-character colour code.
func isMarkupCode(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '5':
		return true
	}
	return false
}
