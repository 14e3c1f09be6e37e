package resolution

import (
	"regexp"

	"github.com/agnivade/levenshtein"
)

var bilingualName = regexp.MustCompile(`([^)\s]+)\(([^)]+)\)`)

// splitName returns the English and Chinese parts of a NAME(名称) key.
func splitName(s string) (en, cn string, ok bool) {
	m := bilingualName.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// IsSimilarity reports whether a and b are candidate duplicates: the edit
// distance of either their English or their Chinese parts is at most half the
// shorter part. Names without the bracket shape are never candidates.
func IsSimilarity(a, b string) bool {
	aEn, aCn, ok := splitName(a)
	if !ok {
		return false
	}
	bEn, bCn, ok := splitName(b)
	if !ok {
		return false
	}
	return closeEnough(aEn, bEn) || closeEnough(aCn, bCn)
}

func closeEnough(a, b string) bool {
	la, lb := len([]rune(a)), len([]rune(b))
	return levenshtein.ComputeDistance(a, b) <= min(la, lb)/2
}
