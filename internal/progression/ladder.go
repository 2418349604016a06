package progression

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultRealms is the cultivation ladder used when a project configures none.
var DefaultRealms = []string{
	"Luyện Khí",
	"Trúc Cơ",
	"Kim Đan",
	"Nguyên Anh",
	"Hóa Thần",
	"Luyện Hư",
	"Hợp Thể",
	"Đại Thừa",
	"Độ Kiếp",
}

// DefaultGrades is the item grade ladder, weakest first.
var DefaultGrades = []string{
	"phàm phẩm",
	"hạ phẩm",
	"trung phẩm",
	"thượng phẩm",
	"cực phẩm",
	"linh khí",
	"bảo khí",
	"tiên khí",
	"thần khí",
}

const DefaultLevelsPerRealm = 9

// Ladder is an ordered list of labels; the index is the rank.
type Ladder []string

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(norm.NFC.String(s)), " "))
}

// Rank returns the position of label in the ladder, comparing
// case-insensitively on NFC-normalized text, or -1.
func (l Ladder) Rank(label string) int {
	want := normalizeLabel(label)
	for i, v := range l {
		if normalizeLabel(v) == want {
			return i
		}
	}
	return -1
}

// Contains reports whether label is a rung of the ladder.
func (l Ladder) Contains(label string) bool {
	return l.Rank(label) >= 0
}

// At returns the label at rank, clamped to the ladder bounds.
func (l Ladder) At(rank int) string {
	if len(l) == 0 {
		return ""
	}
	return l[max(0, min(rank, len(l)-1))]
}

// longestMatch finds the longest rung that occurs in text and returns
// its rank and the remainder of text after the match.
func (l Ladder) longestMatch(text string) (rank int, rest string) {
	haystack := normalizeLabel(text)
	rank = -1
	bestLen := 0
	bestEnd := 0
	for i, v := range l {
		needle := normalizeLabel(v)
		if len(needle) <= bestLen {
			continue
		}
		if idx := strings.Index(haystack, needle); idx >= 0 {
			rank = i
			bestLen = len(needle)
			bestEnd = idx + len(needle)
		}
	}
	if rank < 0 {
		return -1, haystack
	}
	return rank, haystack[bestEnd:]
}
