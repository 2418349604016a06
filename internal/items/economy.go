package items

import (
	"fmt"
	"slices"
	"strings"
)

// EconomyReport is the outcome of ValidateEconomy.
type EconomyReport struct {
	IsConsistent   bool               `json:"is_consistent"`
	Issues         []string           `json:"issues,omitempty"`
	AverageByGrade map[string]float64 `json:"average_by_grade"`
}

// ValidateEconomy buckets valued items by grade and flags price inversions
// between adjacent graded buckets.
func (t *Tracker) ValidateEconomy() EconomyReport {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, it := range t.items {
		if it.EstimatedValue <= 0 {
			continue
		}
		rank := t.cfg.Grades.Rank(it.Grade)
		if rank < 0 {
			continue
		}
		sums[rank] += it.EstimatedValue
		counts[rank]++
	}

	ranks := make([]int, 0, len(counts))
	for r := range counts {
		ranks = append(ranks, r)
	}
	slices.Sort(ranks)

	report := EconomyReport{IsConsistent: true, AverageByGrade: make(map[string]float64, len(ranks))}
	avg := func(r int) float64 { return sums[r] / float64(counts[r]) }
	for _, r := range ranks {
		report.AverageByGrade[t.cfg.Grades[r]] = avg(r)
	}
	for i := 1; i < len(ranks); i++ {
		lower, higher := ranks[i-1], ranks[i]
		if avg(lower) > avg(higher)*(1+t.cfg.PriceInversionTolerance) {
			report.IsConsistent = false
			report.Issues = append(report.Issues, fmt.Sprintf(
				"price inversion: %s items average %.0f but %s items average %.0f",
				t.cfg.Grades[lower], avg(lower), t.cfg.Grades[higher], avg(higher)))
		}
	}
	return report
}

// MentionCount is one entry of the most-mentioned ranking.
type MentionCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Statistics aggregates an item list at a story position.
type Statistics struct {
	TotalItems      int              `json:"total_items"`
	ByCategory      map[Category]int `json:"by_category"`
	ByStatus        map[Status]int   `json:"by_status"`
	Forgotten       []string         `json:"forgotten"`
	ForgottenCount  int              `json:"forgotten_count"`
	AverageMentions float64          `json:"average_mentions"`
	MostMentioned   []MentionCount   `json:"most_mentioned"`
}

const mostMentionedLimit = 5

// GetItemStatistics aggregates items at atChapter using the default
// forgotten window.
func GetItemStatistics(items []Item, atChapter int) Statistics {
	return itemStatistics(items, atChapter, DefaultForgottenWindow)
}

// Statistics aggregates the registry using the configured forgotten window.
func (t *Tracker) Statistics(atChapter int) Statistics {
	return itemStatistics(t.Items(), atChapter, t.cfg.ForgottenWindow)
}

func itemStatistics(items []Item, atChapter, forgottenWindow int) Statistics {
	stats := Statistics{
		TotalItems: len(items),
		ByCategory: make(map[Category]int),
		ByStatus:   make(map[Status]int),
		Forgotten:  []string{},
	}
	if len(items) == 0 {
		return stats
	}

	mentions := 0
	ranking := make([]MentionCount, 0, len(items))
	for _, it := range items {
		stats.ByCategory[it.Category]++
		status := it.Status
		if status == "" {
			status = StatusActive
		}
		stats.ByStatus[status]++
		mentions += it.MentionCount
		ranking = append(ranking, MentionCount{Name: it.Name, Count: it.MentionCount})
		if it.active() && atChapter-it.LastMentionChapter >= forgottenWindow {
			stats.Forgotten = append(stats.Forgotten, it.Name)
		}
	}
	stats.ForgottenCount = len(stats.Forgotten)
	stats.AverageMentions = float64(mentions) / float64(len(items))

	slices.SortStableFunc(ranking, func(a, b MentionCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Name, b.Name)
	})
	stats.MostMentioned = ranking[:min(len(ranking), mostMentionedLimit)]
	return stats
}
