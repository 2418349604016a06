package writer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kalambet/inkwell/internal/storage"
)

// advance applies a successful chapter to the production counters.
func (o *Orchestrator) advance(p storage.Production, chapter int, score float64) storage.Production {
	if chapter > p.CurrentChapter {
		p.CurrentChapter = chapter
	}

	scores := append(append([]float64{}, p.QualityScores...), score)
	if n := len(scores); n > o.cfg.QualityWindow {
		scores = scores[n-o.cfg.QualityWindow:]
	}
	p.QualityScores = scores
	var sum float64
	for _, s := range scores {
		sum += s
	}
	p.AverageQuality = sum / float64(len(scores))

	today := o.now().Format("2006-01-02")
	if p.LastWriteDate != today {
		p.ChaptersWrittenToday = 0
		p.LastWriteDate = today
	}
	p.ChaptersWrittenToday++

	p.ConsecutiveErrors = 0
	p.LastError = ""

	if p.TotalChapters > 0 && p.CurrentChapter >= p.TotalChapters {
		p.Status = storage.ProductionCompleted
	}
	p.UpdatedAt = o.now()
	return p
}

var headingRE = regexp.MustCompile(`(?i)^(?:#+\s*)?\**\s*(?:chương|chapter)\s+(\d+)\s*(?:[:：.\-–—]\s*(.*?))?\s*\**$`)

// ExtractTitle splits a leading "Chương N: Title" or "Chapter N: Title"
// heading off the generated text. Without a recognised heading the title
// defaults to "Chương N" and the text is returned unchanged.
func ExtractTitle(text string, chapter int) (title, body string) {
	text = strings.TrimSpace(text)
	defaultTitle := fmt.Sprintf("Chương %d", chapter)

	first, rest, _ := strings.Cut(text, "\n")
	m := headingRE.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return defaultTitle, text
	}
	if n, err := strconv.Atoi(m[1]); err != nil || n != chapter {
		return defaultTitle, text
	}
	body = strings.TrimSpace(rest)
	if t := strings.TrimSpace(m[2]); t != "" {
		return t, body
	}
	return defaultTitle, body
}

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
