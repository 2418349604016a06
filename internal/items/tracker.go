// Package items keeps the per-project item registry: names, ownership
// history, status lifecycle, mentions, and economy consistency.
//
// A Tracker is single-writer: callers serialize mutations per project.
package items

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/kalambet/inkwell/internal/progression"
)

type Category string

const (
	CategoryWeapon     Category = "weapon"
	CategoryArmor      Category = "armor"
	CategoryConsumable Category = "consumable"
	CategoryTechnique  Category = "technique"
	CategoryArtifact   Category = "artifact"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryWeapon, CategoryArmor, CategoryConsumable, CategoryTechnique, CategoryArtifact:
		return true
	}
	return false
}

type Status string

const (
	StatusActive    Status = "active"
	StatusConsumed  Status = "consumed"
	StatusDestroyed Status = "destroyed"
	StatusLost      Status = "lost"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusConsumed, StatusDestroyed, StatusLost:
		return true
	}
	return false
}

type OwnerRecord struct {
	Owner   string `json:"owner"`
	Chapter int    `json:"chapter"`
}

type Item struct {
	ID                  string        `json:"id"`
	ProjectID           string        `json:"project_id"`
	Name                string        `json:"name"`
	AlternateName       string        `json:"alternate_name,omitempty"`
	Category            Category      `json:"category"`
	Grade               string        `json:"grade"`
	Description         string        `json:"description,omitempty"`
	Effects             []string      `json:"effects,omitempty"`
	EstimatedValue      float64       `json:"estimated_value,omitempty"`
	Currency            string        `json:"currency,omitempty"`
	FirstMentionChapter int           `json:"first_mention_chapter"`
	LastMentionChapter  int           `json:"last_mention_chapter"`
	MentionCount        int           `json:"mention_count"`
	CurrentOwner        string        `json:"current_owner,omitempty"`
	OwnerHistory        []OwnerRecord `json:"owner_history"`
	Status              Status        `json:"status"`
	StatusChangeChapter int           `json:"status_change_chapter,omitempty"`
}

func (it Item) active() bool {
	return it.Status == StatusActive || it.Status == ""
}

func (it Item) clone() Item {
	it.Effects = slices.Clone(it.Effects)
	it.OwnerHistory = slices.Clone(it.OwnerHistory)
	return it
}

// GradeChecker judges whether a grade fits a story position.
type GradeChecker interface {
	ValidateGradeForChapter(grade string, atChapter, totalChapters int) progression.GradeResult
}

// Config holds the grade ladder and the empirically chosen thresholds.
type Config struct {
	Grades progression.Ladder

	// SimilarityThreshold is the minimum similarity at which two names are
	// reported as near-duplicates.
	SimilarityThreshold float64
	// ReminderThreshold is the default gap in chapters after which an
	// unused item is reminded and marked in prompt context.
	ReminderThreshold int
	// ForgottenWindow is the gap after which statistics count an item as forgotten.
	ForgottenWindow int
	// PriceInversionTolerance lets a lower grade average exceed the next
	// higher grade by this fraction before it is flagged.
	PriceInversionTolerance float64
}

const (
	DefaultSimilarityThreshold = 0.75
	DefaultReminderThreshold   = 30
	DefaultForgottenWindow     = 60
)

func (c Config) withDefaults() Config {
	if len(c.Grades) == 0 {
		c.Grades = slices.Clone(progression.Ladder(progression.DefaultGrades))
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.ReminderThreshold <= 0 {
		c.ReminderThreshold = DefaultReminderThreshold
	}
	if c.ForgottenWindow <= 0 {
		c.ForgottenWindow = DefaultForgottenWindow
	}
	if c.PriceInversionTolerance < 0 {
		c.PriceInversionTolerance = 0
	}
	return c
}

// Result reports the outcome of a registry mutation. Rejections are
// reported here rather than as Go errors.
type Result struct {
	Success  bool     `json:"success"`
	Item     *Item    `json:"item,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func failed(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Tracker is the item registry of one project.
type Tracker struct {
	projectID string
	cfg       Config
	grades    GradeChecker
	items     []*Item
}

// NewTracker returns an empty registry. grades may be nil, in which case
// registration skips the story-position grade check.
func NewTracker(projectID string, cfg Config, grades GradeChecker) *Tracker {
	return &Tracker{
		projectID: projectID,
		cfg:       cfg.withDefaults(),
		grades:    grades,
	}
}

// Load replaces the registry with items, typically read from storage.
func (t *Tracker) Load(items []Item) {
	t.items = make([]*Item, 0, len(items))
	for _, it := range items {
		c := it.clone()
		t.items = append(t.items, &c)
	}
}

// Items returns a copy of every registered item in registration order.
func (t *Tracker) Items() []Item {
	out := make([]Item, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, it.clone())
	}
	return out
}

// Find resolves an item by primary or alternate name, case-insensitively.
func (t *Tracker) Find(name string) (Item, bool) {
	it := t.lookup(name)
	if it == nil {
		return Item{}, false
	}
	return it.clone(), true
}

func (t *Tracker) lookup(name string) *Item {
	key := foldCase(name)
	if key == "" {
		return nil
	}
	for _, it := range t.items {
		if foldCase(it.Name) == key || (it.AlternateName != "" && foldCase(it.AlternateName) == key) {
			return it
		}
	}
	return nil
}

// SimilarItem is an existing item whose name resembles a candidate.
type SimilarItem struct {
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

// NameCheck is the outcome of ValidateItemName.
type NameCheck struct {
	IsUnique    bool          `json:"is_unique"`
	Similar     []SimilarItem `json:"similar,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// ValidateItemName reports exact (case-insensitive) collisions and
// near-duplicates among registered names and alternates.
func (t *Tracker) ValidateItemName(candidate string) NameCheck {
	check := NameCheck{IsUnique: true}
	key := foldCase(candidate)

	for _, it := range t.items {
		best := 0.0
		for _, n := range []string{it.Name, it.AlternateName} {
			if n == "" {
				continue
			}
			if foldCase(n) == key {
				check.IsUnique = false
				best = 1
				break
			}
			best = max(best, similarity(candidate, n))
		}
		if best >= t.cfg.SimilarityThreshold {
			check.Similar = append(check.Similar, SimilarItem{Name: it.Name, Similarity: best})
		}
	}
	slices.SortStableFunc(check.Similar, func(a, b SimilarItem) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})

	if !check.IsUnique || len(check.Similar) > 0 {
		check.Suggestions = GenerateItemNameSuggestions(guessCategory(candidate), t.namesLower(), 3)
	}
	return check
}

func (t *Tracker) namesLower() []string {
	names := make([]string, 0, len(t.items)*2)
	for _, it := range t.items {
		names = append(names, foldCase(it.Name))
		if it.AlternateName != "" {
			names = append(names, foldCase(it.AlternateName))
		}
	}
	return names
}

// RegisterOptions carries the optional attributes of RegisterItem.
type RegisterOptions struct {
	AlternateName  string
	Effects        []string
	EstimatedValue float64
	Currency       string
}

// RegisterItem adds a new item. Exact duplicates are rejected; similar names
// and implausible grades only produce warnings.
func (t *Tracker) RegisterItem(name string, category Category, grade, description string, atChapter int, owner string, opts RegisterOptions) Result {
	name = strings.TrimSpace(name)
	if name == "" {
		return failed("item name is required")
	}
	if !category.Valid() {
		return failed("unknown item category %q", category)
	}
	for _, n := range []string{name, opts.AlternateName} {
		if n == "" {
			continue
		}
		if existing := t.lookup(n); existing != nil {
			r := failed("item %q already exists", existing.Name)
			r.Warnings = []string{fmt.Sprintf("%q collides with registered item %q", n, existing.Name)}
			return r
		}
	}

	var warnings []string
	for _, s := range t.ValidateItemName(name).Similar {
		warnings = append(warnings, fmt.Sprintf("name is %.0f%% similar to %q", s.Similarity*100, s.Name))
	}
	if !t.cfg.Grades.Contains(grade) {
		warnings = append(warnings, fmt.Sprintf("grade %q is not on the grade ladder", grade))
	} else if t.grades != nil {
		g := t.grades.ValidateGradeForChapter(grade, atChapter, 0)
		warnings = append(warnings, g.Errors...)
		warnings = append(warnings, g.Warnings...)
	}

	it := &Item{
		ID:                  uuid.New().String(),
		ProjectID:           t.projectID,
		Name:                name,
		AlternateName:       strings.TrimSpace(opts.AlternateName),
		Category:            category,
		Grade:               grade,
		Description:         description,
		Effects:             slices.Clone(opts.Effects),
		EstimatedValue:      opts.EstimatedValue,
		Currency:            opts.Currency,
		FirstMentionChapter: atChapter,
		LastMentionChapter:  atChapter,
		MentionCount:        1,
		CurrentOwner:        owner,
		Status:              StatusActive,
	}
	if owner != "" {
		it.OwnerHistory = []OwnerRecord{{Owner: owner, Chapter: atChapter}}
	}
	t.items = append(t.items, it)

	c := it.clone()
	return Result{Success: true, Item: &c, Warnings: warnings}
}

// TransferOwnership appends a new owner. Unknown items and chapter
// regressions fail without changing anything.
func (t *Tracker) TransferOwnership(name, newOwner string, atChapter int) Result {
	it := t.lookup(name)
	if it == nil {
		return failed("item %q not found", name)
	}
	if newOwner == "" {
		return failed("new owner is required")
	}
	if !it.active() {
		return failed("item %q is %s and cannot change hands", it.Name, it.Status)
	}
	if n := len(it.OwnerHistory); n > 0 && atChapter < it.OwnerHistory[n-1].Chapter {
		return failed("chapter regression: transfer at chapter %d precedes the last transfer at chapter %d",
			atChapter, it.OwnerHistory[n-1].Chapter)
	}

	var warnings []string
	if foldCase(it.CurrentOwner) == foldCase(newOwner) {
		warnings = append(warnings, fmt.Sprintf("%s already owns %q", newOwner, it.Name))
	}
	it.OwnerHistory = append(it.OwnerHistory, OwnerRecord{Owner: newOwner, Chapter: atChapter})
	it.CurrentOwner = newOwner
	it.LastMentionChapter = max(it.LastMentionChapter, atChapter)

	c := it.clone()
	return Result{Success: true, Item: &c, Warnings: warnings}
}

// UpdateItemStatus moves an active item to a terminal status. Repeating the
// current status is a no-op success; leaving a terminal status fails.
func (t *Tracker) UpdateItemStatus(name string, status Status, atChapter int) Result {
	it := t.lookup(name)
	if it == nil {
		return failed("item %q not found", name)
	}
	if !status.Valid() {
		return failed("unknown item status %q", status)
	}
	current := it.Status
	if current == "" {
		current = StatusActive
	}
	if current == status {
		c := it.clone()
		return Result{Success: true, Item: &c, Warnings: []string{fmt.Sprintf("%q is already %s", it.Name, status)}}
	}
	if current != StatusActive {
		return failed("item %q is %s; status changes are one-directional", it.Name, current)
	}
	if atChapter < it.FirstMentionChapter {
		return failed("chapter regression: status change at chapter %d precedes first mention at chapter %d",
			atChapter, it.FirstMentionChapter)
	}

	it.Status = status
	it.StatusChangeChapter = atChapter
	it.LastMentionChapter = max(it.LastMentionChapter, atChapter)
	c := it.clone()
	return Result{Success: true, Item: &c}
}

// RecordMention notes that an item appeared in a chapter.
func (t *Tracker) RecordMention(name string, atChapter int) Result {
	it := t.lookup(name)
	if it == nil {
		return failed("item %q not found", name)
	}
	it.MentionCount++
	it.LastMentionChapter = max(it.LastMentionChapter, atChapter)
	c := it.clone()
	return Result{Success: true, Item: &c}
}

// GetItemsByOwner returns the active items currently held by owner.
func (t *Tracker) GetItemsByOwner(owner string) []Item {
	key := foldCase(owner)
	var out []Item
	for _, it := range t.items {
		if it.active() && foldCase(it.CurrentOwner) == key {
			out = append(out, it.clone())
		}
	}
	return out
}

// Reminder nudges the writer to use an item that has been idle.
type Reminder struct {
	ItemName             string   `json:"item_name"`
	Owner                string   `json:"owner,omitempty"`
	Category             Category `json:"category"`
	ChaptersSinceMention int      `json:"chapters_since_mention"`
	Suggestion           string   `json:"suggestion"`
}

var reminderSuggestions = map[Category]string{
	CategoryWeapon:     "Bring %s into a combat scene.",
	CategoryArmor:      "Test %s in an attack scenario.",
	CategoryConsumable: "Have %s consumed or traded at a moment of need.",
	CategoryTechnique:  "Include a training scene practicing %s.",
	CategoryArtifact:   "Reveal a new property of %s.",
}

// GetUnusedItemReminders lists active items whose last mention is more than
// threshold chapters behind atChapter, most neglected first. A non-positive
// threshold uses the configured default.
func (t *Tracker) GetUnusedItemReminders(atChapter, threshold int) []Reminder {
	if threshold <= 0 {
		threshold = t.cfg.ReminderThreshold
	}
	var out []Reminder
	for _, it := range t.items {
		if !it.active() {
			continue
		}
		gap := atChapter - it.LastMentionChapter
		if gap <= threshold {
			continue
		}
		tmpl, ok := reminderSuggestions[it.Category]
		if !ok {
			tmpl = "Mention %s again."
		}
		out = append(out, Reminder{
			ItemName:             it.Name,
			Owner:                it.CurrentOwner,
			Category:             it.Category,
			ChaptersSinceMention: gap,
			Suggestion:           fmt.Sprintf(tmpl, it.Name),
		})
	}
	slices.SortStableFunc(out, func(a, b Reminder) int {
		return b.ChaptersSinceMention - a.ChaptersSinceMention
	})
	return out
}

// BuildItemContext renders an owner's inventory for prompt injection.
func (t *Tracker) BuildItemContext(owner string, atChapter int) string {
	owned := t.GetItemsByOwner(owner)
	if len(owned) == 0 {
		return fmt.Sprintf("%s has no tracked items.", owner)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Inventory of %s:\n", owner)
	for _, it := range owned {
		fmt.Fprintf(&b, "- %s (%s %s)", it.Name, it.Grade, it.Category)
		if it.Description != "" {
			fmt.Fprintf(&b, ": %s", it.Description)
		}
		if len(it.Effects) > 0 {
			fmt.Fprintf(&b, " [effects: %s]", strings.Join(it.Effects, "; "))
		}
		if gap := atChapter - it.LastMentionChapter; gap > t.cfg.ReminderThreshold {
			fmt.Fprintf(&b, " [UNUSED %d chapters]", gap)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
