package progression

import (
	"strings"
	"testing"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := NewTracker(Config{})
	if r := tr.InitCharacter("Lâm Phong", "Luyện Khí", 9, 0); !r.Valid {
		t.Fatalf("InitCharacter: %v", r.Errors)
	}
	return tr
}

func hasMessage(msgs []string, sub string) bool {
	for _, m := range msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func TestBreakthrough_NextRealmSucceeds(t *testing.T) {
	tr := newTestTracker(t)

	r := tr.Breakthrough("Lâm Phong", 50, "Trúc Cơ", 1, "")
	if !r.Valid {
		t.Fatalf("breakthrough rejected: %v", r.Errors)
	}
	s, _ := tr.State("Lâm Phong")
	if s.Realm != "Trúc Cơ" || s.Level != 1 || s.TotalBreakthroughs != 1 || s.LastBreakthroughChapter != 50 {
		t.Errorf("unexpected state: %+v", s)
	}
}

func TestBreakthrough_RealmSkippedFails(t *testing.T) {
	tr := newTestTracker(t)

	r := tr.Breakthrough("Lâm Phong", 50, "Kim Đan", 1, "")
	if r.Valid {
		t.Fatal("skipping Trúc Cơ was accepted")
	}
	if !hasMessage(r.Errors, "realm skipped") {
		t.Errorf("errors = %v, want realm skipped", r.Errors)
	}
	s, _ := tr.State("Lâm Phong")
	if s.Realm != "Luyện Khí" || s.TotalBreakthroughs != 0 {
		t.Errorf("rejected breakthrough mutated state: %+v", s)
	}
}

func TestValidateBreakthrough_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		realm   string
		level   int
		chapter int
		want    string
	}{
		{"invalid realm", "Thiên Tiên", 1, 60, "invalid realm name"},
		{"skip regardless of level", "Nguyên Anh", 9, 60, "realm skipped"},
		{"regression", "Luyện Khí", 1, 60, "realm regression"},
		{"level not increasing", "Trúc Cơ", 3, 120, "level must increase"},
		{"level above cap", "Trúc Cơ", 12, 120, "outside 1..9"},
		{"chapter regression", "Trúc Cơ", 5, 10, "chapter regression"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(t)
			if r := tr.Breakthrough("Lâm Phong", 50, "Trúc Cơ", 3, ""); !r.Valid {
				t.Fatalf("setup breakthrough: %v", r.Errors)
			}
			r := tr.ValidateBreakthrough("Lâm Phong", tt.chapter, tt.realm, tt.level)
			if r.Valid {
				t.Fatalf("expected rejection")
			}
			if !hasMessage(r.Errors, tt.want) {
				t.Errorf("errors = %v, want %q", r.Errors, tt.want)
			}
		})
	}
}

func TestValidateBreakthrough_TooFastIsWarningOnly(t *testing.T) {
	tr := newTestTracker(t)
	if r := tr.Breakthrough("Lâm Phong", 50, "Trúc Cơ", 1, ""); !r.Valid {
		t.Fatal(r.Errors)
	}

	r := tr.Breakthrough("Lâm Phong", 55, "Trúc Cơ", 2, "ăn Trúc Cơ Đan")
	if !r.Valid {
		t.Fatalf("too-fast breakthrough should not be rejected: %v", r.Errors)
	}
	if !hasMessage(r.Warnings, "too fast") {
		t.Errorf("warnings = %v, want too fast", r.Warnings)
	}
	if !hasMessage(r.Warnings, "ăn Trúc Cơ Đan") {
		t.Errorf("trigger not echoed: %v", r.Warnings)
	}
}

func TestValidateBreakthrough_UnknownCharacterIsSoft(t *testing.T) {
	tr := NewTracker(Config{})

	r := tr.ValidateBreakthrough("Vô Danh", 10, "Trúc Cơ", 1)
	if !r.Valid {
		t.Fatalf("unknown character should validate against the default state: %v", r.Errors)
	}
	if !hasMessage(r.Warnings, "not tracked") {
		t.Errorf("warnings = %v", r.Warnings)
	}

	r = tr.ValidateBreakthrough("Vô Danh", 10, "Kim Đan", 1)
	if r.Valid || !hasMessage(r.Errors, "realm skipped") {
		t.Errorf("default state should still reject skips: %+v", r)
	}
}

func TestTooFastThresholdScales(t *testing.T) {
	tests := []struct {
		total int
		want  int
	}{
		{1000, 40},
		{2000, 80},
		{50, 5},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.TotalChapters = tt.total
		if got := cfg.TooFastThreshold(); got != tt.want {
			t.Errorf("TooFastThreshold(total=%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestRecordSkillLearned_RejectsExactDuplicate(t *testing.T) {
	tr := newTestTracker(t)

	if r := tr.RecordSkillLearned("Lâm Phong", 12, "Thanh Vân Kiếm Quyết"); !r.Valid {
		t.Fatal(r.Errors)
	}
	if r := tr.RecordSkillLearned("Lâm Phong", 13, "Thanh Vân Kiếm Quyết"); r.Valid {
		t.Error("duplicate skill accepted")
	}
	// Case-sensitive: a differently cased name is a different skill.
	if r := tr.RecordSkillLearned("Lâm Phong", 14, "thanh vân kiếm quyết"); !r.Valid {
		t.Errorf("differently cased skill rejected: %v", r.Errors)
	}
	s, _ := tr.State("Lâm Phong")
	if len(s.Abilities) != 2 {
		t.Errorf("abilities = %v", s.Abilities)
	}
}

func TestRecordItemAcquired_AllowsCopies(t *testing.T) {
	tr := newTestTracker(t)
	pill := Item{Name: "Hồi Khí Đan", Type: "consumable", Grade: "hạ phẩm"}
	for range 3 {
		if r := tr.RecordItemAcquired("Lâm Phong", 20, pill); !r.Valid {
			t.Fatal(r.Errors)
		}
	}
	s, _ := tr.State("Lâm Phong")
	if len(s.Items) != 3 || s.Items[0].AcquiredChapter != 20 {
		t.Errorf("items = %+v", s.Items)
	}
}

func TestValidateGradeForChapter(t *testing.T) {
	tr := NewTracker(Config{})

	r := tr.ValidateGradeForChapter("thần khí", 10, 0)
	if r.Valid || !hasMessage(r.Errors, "grade too high") {
		t.Errorf("thần khí at chapter 10 = %+v, want grade too high", r)
	}
	if r := tr.ValidateGradeForChapter("hạ phẩm", 50, 0); !r.Valid {
		t.Errorf("hạ phẩm at chapter 50 rejected: %v", r.Errors)
	}
	if r := tr.ValidateGradeForChapter("thần khí", 1000, 1000); !r.Valid {
		t.Errorf("thần khí at the finale rejected: %v", r.Errors)
	}
	if r := tr.ValidateGradeForChapter("huyền phẩm", 10, 0); r.Valid {
		t.Error("unknown grade accepted")
	}
}

func TestGetExpectedRealm(t *testing.T) {
	tr := NewTracker(Config{})
	tests := []struct {
		chapter int
		want    string
	}{
		{0, "Luyện Khí"},
		{120, "Trúc Cơ"},
		{500, "Hóa Thần"},
		{1000, "Độ Kiếp"},
		{5000, "Độ Kiếp"},
	}
	for _, tt := range tests {
		if got := tr.GetExpectedRealm(tt.chapter, 1000); got.Realm != tt.want {
			t.Errorf("GetExpectedRealm(%d) = %s, want %s", tt.chapter, got.Realm, tt.want)
		}
	}

	front := NewTracker(Config{Curve: CurveFrontLoaded})
	back := NewTracker(Config{Curve: CurveBackLoaded})
	if f, b := front.GetExpectedRealm(250, 1000), back.GetExpectedRealm(250, 1000); f.Rank <= b.Rank {
		t.Errorf("front-loaded rank %d should exceed back-loaded rank %d", f.Rank, b.Rank)
	}
}

func TestParsePower(t *testing.T) {
	tr := NewTracker(Config{})
	tests := []struct {
		label string
		want  Power
		ok    bool
	}{
		{"Kim Đan tầng 3", Power{Rank: 2, Level: 3}, true},
		{"kim đan 7", Power{Rank: 2, Level: 7}, true},
		{"Nguyên Anh hậu kỳ", Power{Rank: 3, Level: 7}, true},
		{"Trúc Cơ", Power{Rank: 1, Level: 1}, true},
		{"Trúc Cơ tầng 42", Power{Rank: 1, Level: 9}, true},
		{"phàm nhân", Power{}, false},
	}
	for _, tt := range tests {
		got, ok := tr.ParsePower(tt.label)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParsePower(%q) = %+v, %v; want %+v, %v", tt.label, got, ok, tt.want, tt.ok)
		}
	}
}

func TestValidateEnemyScaling(t *testing.T) {
	tr := NewTracker(Config{})
	if r := tr.InitCharacter("Lâm Phong", "Trúc Cơ", 2, 0); !r.Valid {
		t.Fatal(r.Errors)
	}

	tests := []struct {
		enemy   string
		outcome string
		valid   bool
	}{
		{"Trúc Cơ tầng 5", OutcomeCleanVictory, true},
		{"Kim Đan tầng 3", OutcomeCleanVictory, false},
		{"Kim Đan tầng 3", OutcomeNarrowEscape, true},
		{"Kim Đan tầng 3", OutcomeVictory, true},
		{"Nguyên Anh tầng 5", OutcomeVictory, false},
		{"Hóa Thần tầng 9", OutcomeNarrowEscape, false},
		{"Hóa Thần tầng 9", OutcomeDefeat, true},
		{"Kim Đan tầng 1", "draw", false},
	}
	for _, tt := range tests {
		r := tr.ValidateEnemyScaling("Lâm Phong", tt.enemy, tt.outcome, 100)
		if r.Valid != tt.valid {
			t.Errorf("%s vs %s: valid = %v, want %v (gap %d, errors %v)", tt.outcome, tt.enemy, r.Valid, tt.valid, r.Gap, r.Errors)
		}
	}

	r := tr.ValidateEnemyScaling("Người Lạ", "Độ Kiếp tầng 9", OutcomeCleanVictory, 100)
	if !r.Valid || !r.Skipped {
		t.Errorf("unknown protagonist should be skipped as valid: %+v", r)
	}
}

func TestContextRendering(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordSkillLearned("Lâm Phong", 3, "Dẫn Khí Quyết")

	summary := tr.GetProgressionSummary("Lâm Phong", 10)
	for _, want := range []string{"Luyện Khí level 9", "1 abilities", "Dẫn Khí Quyết"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary %q missing %q", summary, want)
		}
	}

	battle := tr.GetBattleContext("Lâm Phong", "Trúc Cơ tầng 1")
	if !strings.Contains(battle, "gap +2") {
		t.Errorf("battle context %q missing gap", battle)
	}

	before := tr.States()
	_ = tr.ContextBlock(10)
	after := tr.States()
	if len(before) != len(after) || before[0].Level != after[0].Level {
		t.Error("rendering mutated tracker state")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordSkillLearned("Lâm Phong", 1, "A")

	other := NewTracker(Config{})
	other.Load(tr.States())
	s, ok := other.State("Lâm Phong")
	if !ok || s.Level != 9 || len(s.Abilities) != 1 {
		t.Errorf("loaded state = %+v, %v", s, ok)
	}
}
