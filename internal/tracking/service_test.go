package tracking

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/inkwell/internal/items"
	"github.com/kalambet/inkwell/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewService(store, Settings{DefaultTotalChapters: 1000}), store
}

func TestUpdatePersistsBothTrackers(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	err := svc.Update(ctx, "proj", func(s *Session) error {
		if r := s.Progression.InitCharacter("Lâm Phong", "Luyện Khí", 9, 0); !r.Valid {
			t.Fatalf("InitCharacter: %v", r.Errors)
		}
		if r := s.Progression.Breakthrough("Lâm Phong", 50, "Trúc Cơ", 1, ""); !r.Valid {
			t.Fatalf("Breakthrough: %v", r.Errors)
		}
		if r := s.Items.RegisterItem("Thanh Phong Kiếm", items.CategoryWeapon, "hạ phẩm", "", 10, "Lâm Phong", items.RegisterOptions{}); !r.Success {
			t.Fatalf("RegisterItem: %s", r.Error)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	rows, err := store.ListProgressionStates(ctx, "proj")
	if err != nil || len(rows) != 1 || rows[0].Realm != "Trúc Cơ" {
		t.Fatalf("persisted progression = %+v, %v", rows, err)
	}

	err = svc.View(ctx, "proj", func(s *Session) error {
		st, ok := s.Progression.State("Lâm Phong")
		if !ok || st.TotalBreakthroughs != 1 {
			t.Errorf("reloaded state = %+v, %v", st, ok)
		}
		if it, ok := s.Items.Find("thanh phong kiếm"); !ok || it.CurrentOwner != "Lâm Phong" {
			t.Errorf("reloaded item = %+v, %v", it, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestProjectLaddersOverrideDefaults(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	err := store.SaveProject(ctx, storage.Project{
		ID: "scifi", Title: "Star Ladder", TotalChapters: 200,
		RealmLadder: []string{"Cadet", "Pilot", "Captain"}, LevelsPerRealm: 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	err = svc.View(ctx, "scifi", func(s *Session) error {
		if s.TotalChapters != 200 {
			t.Errorf("TotalChapters = %d, want 200", s.TotalChapters)
		}
		r := s.Progression.ValidateBreakthrough("Ada", 10, "Pilot", 1)
		if !r.Valid {
			t.Errorf("project ladder not applied: %v", r.Errors)
		}
		if r := s.Progression.ValidateBreakthrough("Ada", 10, "Trúc Cơ", 1); r.Valid {
			t.Error("default realm accepted for a project with its own ladder")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestChapterContextAndMentions(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	err := svc.Update(ctx, "proj", func(s *Session) error {
		s.Progression.InitCharacter("Lâm Phong", "Trúc Cơ", 2, 0)
		s.Items.RegisterItem("Thanh Phong Kiếm", items.CategoryWeapon, "hạ phẩm", "", 10, "Lâm Phong", items.RegisterOptions{})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	prog, inv, err := svc.ChapterContext(ctx, "proj", 60)
	if err != nil {
		t.Fatalf("ChapterContext: %v", err)
	}
	if !strings.Contains(prog, "Lâm Phong: Trúc Cơ level 2") {
		t.Errorf("progression block = %q", prog)
	}
	if !strings.Contains(inv, "Thanh Phong Kiếm") || !strings.Contains(inv, "Reminder:") {
		t.Errorf("item block = %q", inv)
	}

	detected, err := svc.RecordChapterMentions(ctx, "proj", 61, "Lâm Phong vung Thanh Phong Kiếm, chém đứt Hắc Thiết Đao của đối thủ.")
	if err != nil {
		t.Fatalf("RecordChapterMentions: %v", err)
	}
	var newOnes int
	for _, d := range detected {
		if d.IsNew {
			newOnes++
		}
	}
	if newOnes != 1 {
		t.Errorf("detected = %+v, want one new item", detected)
	}

	rows, err := store.ListItems(ctx, "proj")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].MentionCount != 2 || rows[0].LastMentionChapter != 61 {
		t.Errorf("mention not recorded: %+v", rows)
	}
}

func TestLoadLadders(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ladders.yaml")
	doc := "realms: [Phàm Nhân, Võ Giả, Võ Sư]\ngrades: [thường, hiếm]\nlevels_per_realm: 5\ncurve: front_loaded\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := LoadLadders(path)
	if err != nil {
		t.Fatalf("LoadLadders: %v", err)
	}
	if len(l.Realms) != 3 || l.Realms[1] != "Võ Giả" || l.LevelsPerRealm != 5 || l.Curve != "front_loaded" {
		t.Errorf("ladders = %+v", l)
	}

	if l, err := LoadLadders(""); err != nil || len(l.Realms) != 0 {
		t.Errorf("empty path = %+v, %v", l, err)
	}
}

func TestParseLadders_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":     "   ",
		"duplicate": "realms: [A, B, a]\n",
		"curve":     "curve: zigzag\n",
		"syntax":    "realms: [A, B\n",
	}
	for name, doc := range tests {
		if _, err := ParseLadders([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
