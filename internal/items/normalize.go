package items

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var caseFolder = cases.Fold()

// foldCase is the key for exact-name uniqueness: NFC, case-folded,
// whitespace collapsed. Diacritics are significant.
func foldCase(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(caseFolder.String(s)), " ")
}

var stripMarks = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	runes.Map(func(r rune) rune {
		switch r {
		case 'đ', 'Đ':
			return 'd'
		}
		return r
	}),
	norm.NFC,
)

// foldLoose additionally strips diacritics so that "Thanh Phong Kiếm" and
// "thanh phong kiem" compare equal. It is used for similarity only.
func foldLoose(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		out = s
	}
	return foldCase(out)
}

// similarity returns 1 - levenshtein/maxLen over loosely folded names.
func similarity(a, b string) float64 {
	a, b = foldLoose(a), foldLoose(b)
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}
