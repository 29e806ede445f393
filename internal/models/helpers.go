package models

import (
	"strings"
	"unicode"
)

// Slugify turns a section or diagram title into a stable lowercase,
// hyphenated identifier. Non-ASCII letters and punctuation are dropped
// rather than transliterated and leave no hyphen behind; each space,
// underscore or hyphen becomes its own hyphen, so consecutive separators
// yield consecutive hyphens.
func Slugify(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
		case r == ' ' || r == '_' || r == '-':
			b.WriteRune('-')
		default:
			// drop punctuation and non-ASCII runes entirely
		}
	}
	return b.String()
}
