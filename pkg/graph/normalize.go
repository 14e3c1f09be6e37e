package graph

import (
	"html"
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

var (
	controlChars  = regexp.MustCompile(`["\x00-\x1f\x7f-\x{9f}]`)
	spaceBracket  = regexp.MustCompile(`\s*\(\s*`)
	bracketedName = regexp.MustCompile(`^[^\s()]+(?:\s+[^\s()]+)*\s*\([^)]+\)`)
)

// CleanStr unescapes HTML entities and strips quotes and control characters.
func CleanStr(s string) string {
	return controlChars.ReplaceAllString(html.UnescapeString(strings.TrimSpace(s)), "")
}

// FullToHalf folds full-width characters, including the ideographic space,
// to their half-width forms.
func FullToHalf(s string) string {
	return width.Fold.String(s)
}

// NormalizeName turns an extracted name or type into a graph key: cleaned,
// upper-cased, half-width, with no space before the opening bracket.
func NormalizeName(s string) string {
	s = FullToHalf(strings.ToUpper(CleanStr(s)))
	return strings.TrimSpace(spaceBracket.ReplaceAllString(s, "("))
}

// IsBracketName reports whether s has the ENGLISH-NAME(中文名) shape.
func IsBracketName(s string) bool {
	return bracketedName.MatchString(s)
}
