// Package progression tracks each character's cultivation realm, level,
// abilities, and items for one project, and validates proposed changes
// against the configured power ladder.
//
// A Tracker is single-writer: callers serialize mutations per project.
package progression

import (
	"fmt"
	"math"
	"slices"
)

// Curve shapes how the expected realm advances with story completion.
type Curve string

const (
	CurveLinear      Curve = "linear"
	CurveFrontLoaded Curve = "front_loaded"
	CurveBackLoaded  Curve = "back_loaded"
)

// Config holds the ladders and the empirically chosen thresholds.
type Config struct {
	Realms         Ladder
	Grades         Ladder
	LevelsPerRealm int
	TotalChapters  int

	// A breakthrough sooner than max(MinBreakthroughGap, TotalChapters*TooFastRatio)
	// chapters after the previous one is flagged as too fast.
	TooFastRatio       float64
	MinBreakthroughGap int

	// GradeHeadroom is how many grade ranks above the story-position
	// expectation are still accepted.
	GradeHeadroom int

	// Power gaps (enemy minus protagonist) beyond which an outcome is implausible.
	CleanVictoryMaxGap int
	VictoryMaxGap      int
	EscapeMaxGap       int

	Curve Curve
}

// DefaultConfig returns the cultivation defaults.
func DefaultConfig() Config {
	return Config{
		Realms:             slices.Clone(Ladder(DefaultRealms)),
		Grades:             slices.Clone(Ladder(DefaultGrades)),
		LevelsPerRealm:     DefaultLevelsPerRealm,
		TotalChapters:      1000,
		TooFastRatio:       0.04,
		MinBreakthroughGap: 5,
		GradeHeadroom:      1,
		CleanVictoryMaxGap: 10,
		VictoryMaxGap:      20,
		EscapeMaxGap:       30,
		Curve:              CurveLinear,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Realms) == 0 {
		c.Realms = d.Realms
	}
	if len(c.Grades) == 0 {
		c.Grades = d.Grades
	}
	if c.LevelsPerRealm <= 0 {
		c.LevelsPerRealm = d.LevelsPerRealm
	}
	if c.TotalChapters <= 0 {
		c.TotalChapters = d.TotalChapters
	}
	if c.TooFastRatio <= 0 {
		c.TooFastRatio = d.TooFastRatio
	}
	if c.MinBreakthroughGap <= 0 {
		c.MinBreakthroughGap = d.MinBreakthroughGap
	}
	if c.GradeHeadroom < 0 {
		c.GradeHeadroom = 0
	}
	if c.CleanVictoryMaxGap <= 0 {
		c.CleanVictoryMaxGap = d.CleanVictoryMaxGap
	}
	if c.VictoryMaxGap <= 0 {
		c.VictoryMaxGap = d.VictoryMaxGap
	}
	if c.EscapeMaxGap <= 0 {
		c.EscapeMaxGap = d.EscapeMaxGap
	}
	if c.Curve == "" {
		c.Curve = d.Curve
	}
	return c
}

// TooFastThreshold returns the minimum chapter gap between breakthroughs
// below which a breakthrough is flagged.
func (c Config) TooFastThreshold() int {
	scaled := int(math.Round(float64(c.TotalChapters) * c.TooFastRatio))
	return max(c.MinBreakthroughGap, scaled)
}

// Item is an entry in a character's inventory.
type Item struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	Grade           string `json:"grade"`
	AcquiredChapter int    `json:"acquired_chapter"`
}

// State is the progression of one character.
type State struct {
	CharacterName           string   `json:"character_name"`
	Realm                   string   `json:"realm"`
	Level                   int      `json:"level"`
	Abilities               []string `json:"abilities"`
	Items                   []Item   `json:"items"`
	TotalBreakthroughs      int      `json:"total_breakthroughs"`
	LastBreakthroughChapter int      `json:"last_breakthrough_chapter"`
}

func (s State) clone() State {
	s.Abilities = slices.Clone(s.Abilities)
	s.Items = slices.Clone(s.Items)
	return s
}

// Result reports the outcome of a validation or mutation. Validation
// problems are never returned as Go errors.
type Result struct {
	Valid    bool     `json:"valid"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Tracker holds the progression state of every character in a project.
type Tracker struct {
	cfg    Config
	states map[string]*State
}

// NewTracker returns an empty tracker. Zero-valued Config fields take defaults.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:    cfg.withDefaults(),
		states: make(map[string]*State),
	}
}

// Config returns the effective configuration.
func (t *Tracker) Config() Config {
	return t.cfg
}

// Load replaces the tracker's state with states, typically read from storage.
func (t *Tracker) Load(states []State) {
	t.states = make(map[string]*State, len(states))
	for _, s := range states {
		c := s.clone()
		t.states[s.CharacterName] = &c
	}
}

// States returns a copy of every character's state ordered by name.
func (t *Tracker) States() []State {
	out := make([]State, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, s.clone())
	}
	slices.SortFunc(out, func(a, b State) int {
		if a.CharacterName < b.CharacterName {
			return -1
		}
		if a.CharacterName > b.CharacterName {
			return 1
		}
		return 0
	})
	return out
}

// State returns a copy of a character's state.
func (t *Tracker) State(name string) (State, bool) {
	s, ok := t.states[name]
	if !ok {
		return State{}, false
	}
	return s.clone(), true
}

func (t *Tracker) defaultState(name string) State {
	return State{CharacterName: name, Realm: t.cfg.Realms.At(0), Level: 1}
}

// InitCharacter creates a character at the given realm and level.
func (t *Tracker) InitCharacter(name, realm string, level, atChapter int) Result {
	r := Result{Valid: true}
	if name == "" {
		r.fail("character name is required")
		return r
	}
	if _, exists := t.states[name]; exists {
		r.fail("character %q is already tracked", name)
		return r
	}
	rank := t.cfg.Realms.Rank(realm)
	if rank < 0 {
		r.fail("invalid realm name %q", realm)
		return r
	}
	if level < 1 || level > t.cfg.LevelsPerRealm {
		r.fail("level %d outside 1..%d", level, t.cfg.LevelsPerRealm)
		return r
	}
	t.states[name] = &State{
		CharacterName:           name,
		Realm:                   t.cfg.Realms[rank],
		Level:                   level,
		LastBreakthroughChapter: atChapter,
	}
	return r
}

// ValidateBreakthrough checks a proposed realm/level change without applying it.
func (t *Tracker) ValidateBreakthrough(name string, atChapter int, newRealm string, newLevel int) Result {
	r := Result{Valid: true}

	current, ok := t.State(name)
	if !ok {
		r.warn("character %q is not tracked yet; assuming %s level 1", name, t.cfg.Realms.At(0))
		current = t.defaultState(name)
	}

	newRank := t.cfg.Realms.Rank(newRealm)
	if newRank < 0 {
		r.fail("invalid realm name %q", newRealm)
		return r
	}
	curRank := t.cfg.Realms.Rank(current.Realm)

	switch {
	case newRank > curRank+1:
		r.fail("realm skipped: %s to %s jumps %d realms", current.Realm, t.cfg.Realms[newRank], newRank-curRank)
	case newRank < curRank:
		r.fail("realm regression: %s to %s", current.Realm, t.cfg.Realms[newRank])
	case newRank == curRank && newLevel <= current.Level:
		r.fail("level must increase within %s: %d to %d", current.Realm, current.Level, newLevel)
	}
	if newLevel < 1 || newLevel > t.cfg.LevelsPerRealm {
		r.fail("level %d outside 1..%d", newLevel, t.cfg.LevelsPerRealm)
	}
	if ok && atChapter < current.LastBreakthroughChapter {
		r.fail("chapter regression: breakthrough at chapter %d precedes the last one at chapter %d",
			atChapter, current.LastBreakthroughChapter)
	}
	if !r.Valid {
		return r
	}

	if ok {
		gap := atChapter - current.LastBreakthroughChapter
		if threshold := t.cfg.TooFastThreshold(); gap < threshold {
			r.warn("breakthrough too fast: %d chapters since the last one (expected at least %d)", gap, threshold)
		}
	}

	expected := t.GetExpectedRealm(atChapter, t.cfg.TotalChapters)
	if newRank > t.cfg.Realms.Rank(expected.Realm)+1 {
		r.warn("%s is ahead of the expected %s at chapter %d", t.cfg.Realms[newRank], expected.Realm, atChapter)
	}
	return r
}

// Breakthrough validates and, when valid, applies a realm/level change.
// trigger is an optional narrative cause, echoed when the change is flagged.
func (t *Tracker) Breakthrough(name string, atChapter int, newRealm string, newLevel int, trigger string) Result {
	r := t.ValidateBreakthrough(name, atChapter, newRealm, newLevel)
	if !r.Valid {
		return r
	}

	s, ok := t.states[name]
	if !ok {
		d := t.defaultState(name)
		s = &d
		t.states[name] = s
	}
	s.Realm = t.cfg.Realms[t.cfg.Realms.Rank(newRealm)]
	s.Level = newLevel
	s.LastBreakthroughChapter = atChapter
	s.TotalBreakthroughs++
	if trigger != "" && len(r.Warnings) > 0 {
		r.warn("accepted with trigger: %s", trigger)
	}
	return r
}

// RecordSkillLearned adds a skill. Exact duplicates are rejected.
func (t *Tracker) RecordSkillLearned(name string, atChapter int, skill string) Result {
	r := Result{Valid: true}
	if skill == "" {
		r.fail("skill name is required")
		return r
	}
	s := t.ensure(name, &r)
	if slices.Contains(s.Abilities, skill) {
		r.fail("%s already knows %q", name, skill)
		return r
	}
	s.Abilities = append(s.Abilities, skill)
	return r
}

// RecordItemAcquired appends an item. Multiple copies are allowed.
func (t *Tracker) RecordItemAcquired(name string, atChapter int, item Item) Result {
	r := Result{Valid: true}
	if item.Name == "" {
		r.fail("item name is required")
		return r
	}
	if item.AcquiredChapter == 0 {
		item.AcquiredChapter = atChapter
	}
	s := t.ensure(name, &r)
	s.Items = append(s.Items, item)
	if item.Grade != "" {
		g := t.ValidateGradeForChapter(item.Grade, atChapter, t.cfg.TotalChapters)
		r.Warnings = append(r.Warnings, g.Errors...)
		r.Warnings = append(r.Warnings, g.Warnings...)
	}
	return r
}

func (t *Tracker) ensure(name string, r *Result) *State {
	s, ok := t.states[name]
	if !ok {
		r.warn("character %q was not tracked; created at %s level 1", name, t.cfg.Realms.At(0))
		d := t.defaultState(name)
		s = &d
		t.states[name] = s
	}
	return s
}
