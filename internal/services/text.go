package services

import (
	"strings"
	"unicode/utf8"
)

// cleanText trims surrounding whitespace. Content is otherwise stored as
// sent; it is served as JSON text and escaped wherever it is rendered.
func cleanText(s string) string {
	return strings.TrimSpace(s)
}

// cleanOptional returns nil for absent or blank text.
func cleanOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := cleanText(*s)
	if v == "" {
		return nil
	}
	return &v
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
