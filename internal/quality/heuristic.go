package quality

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Heuristic scores a chapter from surface features only. It never fails and
// needs no provider.
type Heuristic struct {
	// MinWords is the length below which a chapter is penalised. Defaults to 1500.
	MinWords int
}

const heuristicBase = 90.0

func (h *Heuristic) Score(_ context.Context, text string, _ int, _ string) (Result, error) {
	minWords := h.MinWords
	if minWords <= 0 {
		minWords = 1500
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Score: 0, Issues: []string{"empty chapter"}}, nil
	}

	score := heuristicBase
	issues := []string{}

	words := len(strings.Fields(text))
	if words < minWords {
		score -= 40 * (1 - float64(words)/float64(minWords))
		issues = append(issues, fmt.Sprintf("chapter too short (%d words, want %d)", words, minWords))
	}

	if n := countParagraphs(text); n < 5 {
		score -= 10
		issues = append(issues, fmt.Sprintf("too few paragraphs (%d)", n))
	}

	if ratio := repeatedSentenceRatio(text); ratio > 0.1 {
		score -= 40 * ratio
		issues = append(issues, fmt.Sprintf("repetitive sentences (%.0f%% repeated)", ratio*100))
	}

	if !strings.ContainsAny(text, "\"“”「」") && !hasDashDialogue(text) {
		score -= 5
		issues = append(issues, "no dialogue")
	}

	last, _ := utf8.DecodeLastRuneInString(text)
	if !strings.ContainsRune(".!?…\"”」)*", last) {
		score -= 5
		issues = append(issues, "ending looks truncated")
	}

	return Result{Score: clamp(score), Issues: issues}, nil
}

func countParagraphs(text string) int {
	n := 0
	for _, p := range strings.Split(text, "\n") {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	return n
}

// hasDashDialogue detects the dash-led dialogue lines common in Vietnamese prose.
func hasDashDialogue(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "–") || strings.HasPrefix(line, "—") {
			return true
		}
	}
	return false
}

// repeatedSentenceRatio is the share of sentences (longer than a few words)
// that duplicate an earlier sentence.
func repeatedSentenceRatio(text string) float64 {
	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n' || r == '…'
	})
	seen := make(map[string]bool)
	total, dup := 0, 0
	for _, s := range sentences {
		key := strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return unicode.IsSpace(r) || unicode.IsPunct(r)
		}), " ")
		if len(strings.Fields(key)) < 4 {
			continue
		}
		total++
		if seen[key] {
			dup++
		}
		seen[key] = true
	}
	if total == 0 {
		return 0
	}
	return float64(dup) / float64(total)
}
