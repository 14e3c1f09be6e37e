package projection

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

// Tokenizer splits text into search tokens: runs of letters and digits become
// lower-cased words and every run of CJK characters becomes one token.
// Output is space joined, the form the index stores in *_tks fields.
// It is safe for concurrent use.
type Tokenizer struct{}

// NewTokenizer returns a Tokenizer.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{}
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

// Tokens returns the coarse tokens of s.
func (t *Tokenizer) Tokens(s string) []string {
	s = cases.Fold().String(width.Fold.String(s))
	var (
		out []string
		cur []rune
		cjk bool
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range s {
		switch {
		case isCJK(r):
			if !cjk {
				flush()
			}
			cjk = true
			cur = append(cur, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if cjk {
				flush()
			}
			cjk = false
			cur = append(cur, r)
		default:
			flush()
			cjk = false
		}
	}
	flush()
	return out
}

// Tokenize returns the coarse tokens of s joined by spaces.
func (t *Tokenizer) Tokenize(s string) string {
	return strings.Join(t.Tokens(s), " ")
}

// FineGrained splits the CJK tokens of an already tokenized string into
// overlapping bigrams. Other tokens pass through.
func (t *Tokenizer) FineGrained(tokenized string) string {
	var out []string
	for _, tok := range strings.Fields(tokenized) {
		runes := []rune(tok)
		if len(runes) <= 2 || !isCJK(runes[0]) {
			out = append(out, tok)
			continue
		}
		for i := 0; i+1 < len(runes); i++ {
			out = append(out, string(runes[i:i+2]))
		}
	}
	return strings.Join(out, " ")
}
