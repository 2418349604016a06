package progression

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Battle outcomes understood by ValidateEnemyScaling.
const (
	OutcomeCleanVictory = "clean_victory"
	OutcomeVictory      = "victory"
	OutcomeNarrowEscape = "narrow_escape"
	OutcomeDefeat       = "defeat"
)

// Power is a parsed combat rank. Realm dominates and the level breaks ties.
type Power struct {
	Rank  int `json:"rank"`
	Level int `json:"level"`
}

// Scalar folds a Power into one ordered number.
func (p Power) Scalar() int {
	return p.Rank*10 + p.Level
}

// GradeResult is the outcome of ValidateGradeForChapter.
type GradeResult struct {
	Result
	ExpectedMaxGrade string `json:"expected_max_grade"`
}

// BattleResult is the outcome of ValidateEnemyScaling.
type BattleResult struct {
	Result
	Gap     int  `json:"gap"`
	Skipped bool `json:"skipped"`
}

// Expectation is where a character should stand at a point in the story.
type Expectation struct {
	Realm string `json:"realm"`
	Rank  int    `json:"rank"`
	Level int    `json:"level"`
}

func storyFraction(atChapter, totalChapters int) float64 {
	if totalChapters <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, float64(atChapter)/float64(totalChapters)))
}

// ValidateGradeForChapter flags grades stronger than the story position allows.
// A non-positive totalChapters uses the configured total.
func (t *Tracker) ValidateGradeForChapter(grade string, atChapter, totalChapters int) GradeResult {
	if totalChapters <= 0 {
		totalChapters = t.cfg.TotalChapters
	}
	grades := t.cfg.Grades
	f := storyFraction(atChapter, totalChapters)
	expected := min(int(f*float64(len(grades)))+t.cfg.GradeHeadroom, len(grades)-1)

	res := GradeResult{Result: Result{Valid: true}, ExpectedMaxGrade: grades.At(expected)}
	rank := grades.Rank(grade)
	if rank < 0 {
		res.fail("unknown grade %q", grade)
		return res
	}
	if rank > expected {
		res.fail("grade too high: %s at chapter %d of %d (expected at most %s)",
			grades[rank], atChapter, totalChapters, grades[expected])
	}
	return res
}

// GetExpectedRealm interpolates the realm ladder over story completion using
// the configured curve.
func (t *Tracker) GetExpectedRealm(atChapter, totalChapters int) Expectation {
	if totalChapters <= 0 {
		totalChapters = t.cfg.TotalChapters
	}
	f := storyFraction(atChapter, totalChapters)
	switch t.cfg.Curve {
	case CurveFrontLoaded:
		f = math.Sqrt(f)
	case CurveBackLoaded:
		f = f * f
	}

	levels := t.cfg.LevelsPerRealm
	steps := len(t.cfg.Realms) * levels
	pos := min(int(f*float64(steps)), steps-1)
	rank := pos / levels
	return Expectation{
		Realm: t.cfg.Realms.At(rank),
		Rank:  rank,
		Level: pos%levels + 1,
	}
}

var stageLevels = []struct {
	words []string
	level int
}{
	{[]string{"đại viên mãn", "đỉnh phong", "peak"}, 9},
	{[]string{"hậu kỳ", "late"}, 7},
	{[]string{"trung kỳ", "middle", "mid"}, 4},
	{[]string{"sơ kỳ", "early"}, 1},
}

// ParsePower reads labels such as "Kim Đan tầng 3", "Trúc Cơ 7" or
// "Nguyên Anh hậu kỳ". Without a level the first level is assumed.
func (t *Tracker) ParsePower(label string) (Power, bool) {
	rank, rest := t.cfg.Realms.longestMatch(label)
	if rank < 0 {
		return Power{}, false
	}
	level := 1
	if n, ok := firstNumber(rest); ok {
		level = n
	} else {
	stages:
		for _, st := range stageLevels {
			for _, w := range st.words {
				if strings.Contains(rest, w) {
					level = st.level
					break stages
				}
			}
		}
	}
	level = max(1, min(level, t.cfg.LevelsPerRealm))
	return Power{Rank: rank, Level: level}, true
}

func firstNumber(s string) (int, bool) {
	start := strings.IndexFunc(s, unicode.IsDigit)
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[start:end])
	return n, err == nil
}

func (t *Tracker) powerOf(s State) Power {
	return Power{Rank: max(0, t.cfg.Realms.Rank(s.Realm)), Level: s.Level}
}

// ValidateEnemyScaling judges whether a battle outcome is plausible given the
// power gap between the protagonist and the enemy.
func (t *Tracker) ValidateEnemyScaling(protagonist, enemyPower, outcome string, atChapter int) BattleResult {
	res := BattleResult{Result: Result{Valid: true}}

	s, ok := t.State(protagonist)
	if !ok {
		res.Skipped = true
		res.warn("character %q is not tracked; battle scaling not checked", protagonist)
		return res
	}
	enemy, ok := t.ParsePower(enemyPower)
	if !ok {
		res.fail("cannot parse enemy power %q", enemyPower)
		return res
	}

	res.Gap = enemy.Scalar() - t.powerOf(s).Scalar()
	switch outcome {
	case OutcomeCleanVictory:
		if res.Gap > t.cfg.CleanVictoryMaxGap {
			res.fail("clean victory over an enemy %d ranks stronger is implausible (max %d)", res.Gap, t.cfg.CleanVictoryMaxGap)
		}
	case OutcomeVictory:
		if res.Gap > t.cfg.VictoryMaxGap {
			res.fail("victory over an enemy %d ranks stronger is implausible (max %d)", res.Gap, t.cfg.VictoryMaxGap)
		}
	case OutcomeNarrowEscape:
		if res.Gap > t.cfg.EscapeMaxGap {
			res.fail("escape from an enemy %d ranks stronger is implausible (max %d)", res.Gap, t.cfg.EscapeMaxGap)
		}
	case OutcomeDefeat:
		if -res.Gap > t.cfg.CleanVictoryMaxGap {
			res.warn("defeat by an enemy %d ranks weaker needs a narrative reason", -res.Gap)
		}
	default:
		res.fail("unknown battle outcome %q", outcome)
		return res
	}

	expected := t.GetExpectedRealm(atChapter, t.cfg.TotalChapters)
	if enemy.Rank > expected.Rank+2 {
		res.warn("enemy realm %s is unusually high for chapter %d", t.cfg.Realms.At(enemy.Rank), atChapter)
	}
	return res
}

// GetBattleContext renders a one-paragraph power comparison for prompts.
func (t *Tracker) GetBattleContext(protagonist, enemyPower string) string {
	s, ok := t.State(protagonist)
	if !ok {
		return fmt.Sprintf("No progression recorded for %s.", protagonist)
	}
	p := t.powerOf(s)
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s level %d (power %d), %d abilities, %d items.",
		s.CharacterName, s.Realm, s.Level, p.Scalar(), len(s.Abilities), len(s.Items))

	enemy, ok := t.ParsePower(enemyPower)
	if !ok {
		return b.String()
	}
	gap := enemy.Scalar() - p.Scalar()
	fmt.Fprintf(&b, " Opponent: %s level %d (power %d), gap %+d.", t.cfg.Realms.At(enemy.Rank), enemy.Level, enemy.Scalar(), gap)
	switch {
	case gap > t.cfg.VictoryMaxGap:
		b.WriteString(" The opponent is overwhelming; escape is the only plausible outcome.")
	case gap > t.cfg.CleanVictoryMaxGap:
		b.WriteString(" The opponent is a realm above; victory must be hard-won.")
	case gap > 0:
		b.WriteString(" The opponent is slightly stronger.")
	default:
		b.WriteString(" The protagonist holds the advantage.")
	}
	return b.String()
}

// GetProgressionSummary renders a compact snapshot of one character.
func (t *Tracker) GetProgressionSummary(name string, atChapter int) string {
	s, ok := t.State(name)
	if !ok {
		return fmt.Sprintf("No progression recorded for %s.", name)
	}
	exp := t.GetExpectedRealm(atChapter, t.cfg.TotalChapters)
	summary := fmt.Sprintf("%s: %s level %d, %d abilities, %d items, %d breakthroughs (last at chapter %d). Expected around %s level %d at chapter %d.",
		s.CharacterName, s.Realm, s.Level, len(s.Abilities), len(s.Items), s.TotalBreakthroughs,
		s.LastBreakthroughChapter, exp.Realm, exp.Level, atChapter)
	if len(s.Abilities) > 0 {
		summary += " Abilities: " + strings.Join(s.Abilities, ", ") + "."
	}
	return summary
}

// ContextBlock summarizes every tracked character for chapter prompts.
func (t *Tracker) ContextBlock(atChapter int) string {
	states := t.States()
	if len(states) == 0 {
		return ""
	}
	lines := make([]string, 0, len(states))
	for _, s := range states {
		lines = append(lines, "- "+t.GetProgressionSummary(s.CharacterName, atChapter))
	}
	return strings.Join(lines, "\n")
}
