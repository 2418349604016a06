package composer

import (
	"strings"
	"testing"

	"github.com/kalambet/inkwell/internal/storage"
)

func testRequest() ChapterRequest {
	return ChapterRequest{
		Blueprint: storage.Blueprint{
			Title:    "Kiếm Đạo Độc Tôn",
			Genre:    "tiên hiệp",
			Synopsis: "Một thiếu niên bị phế kinh mạch tìm lại con đường tu luyện.",
			Arcs: []storage.Arc{
				{Name: "Ngoại môn", StartChapter: 1, EndChapter: 40, TensionTarget: 35},
				{Name: "Bí cảnh", StartChapter: 41, EndChapter: 80, TensionTarget: 85, Summary: "Tranh đoạt bảo vật"},
			},
		},
		Author:        storage.Author{Name: "Mặc Vân", Style: "tight action", Voice: "wry"},
		ChapterNumber: 45,
		TotalChapters: 1000,
	}
}

func TestTensionLevel(t *testing.T) {
	tests := []struct {
		target int
		want   string
	}{
		{100, TensionHigh},
		{71, TensionHigh},
		{70, TensionMedium},
		{41, TensionMedium},
		{40, TensionLow},
		{0, TensionLow},
	}
	for _, tt := range tests {
		if got := TensionLevel(tt.target); got != tt.want {
			t.Errorf("TensionLevel(%d) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestCompose_Brief(t *testing.T) {
	req := testRequest()
	req.ProgressionContext = "Lâm Phong: Trúc Cơ 3"
	req.ItemContext = "Lâm Phong holds: Thanh Phong Kiếm"

	p := New(4000).Compose(req)

	for _, want := range []string{
		"Title: Kiếm Đạo Độc Tôn",
		"Genre: tiên hiệp",
		"Chapter 45 of 1000",
		"Arc: Bí cảnh (chapters 41-80)",
		"Arc outline: Tranh đoạt bảo vật",
		"Target tension: high",
		"[Power Progression]\nLâm Phong: Trúc Cơ 3",
		"[Items]\nLâm Phong holds: Thanh Phong Kiếm",
		"Chương 45: <title>",
	} {
		if !strings.Contains(p.User, want) {
			t.Errorf("user prompt missing %q:\n%s", want, p.User)
		}
	}
	if !strings.Contains(p.System, "Mặc Vân") || !strings.Contains(p.System, "tight action") {
		t.Errorf("system prompt = %q", p.System)
	}
}

func TestCompose_AuthorSystemPromptWins(t *testing.T) {
	req := testRequest()
	req.Author.SystemPrompt = "Custom persona."
	if p := New(0).Compose(req); p.System != "Custom persona." {
		t.Errorf("system = %q", p.System)
	}
}

func TestCompose_NoArc(t *testing.T) {
	req := testRequest()
	req.ChapterNumber = 200
	p := New(0).Compose(req)
	if strings.Contains(p.User, "Arc:") {
		t.Error("unexpected arc for uncovered chapter")
	}
	if !strings.Contains(p.User, "Target tension: low") {
		t.Errorf("missing default tension:\n%s", p.User)
	}
}

func TestCompose_RecentSummariesBudget(t *testing.T) {
	req := testRequest()
	for n := 1; n <= 30; n++ {
		req.Recent = append(req.Recent, storage.Chapter{Number: n, Summary: strings.Repeat("s", 100)})
	}

	c := New(200)
	ctx := c.buildContext(req)
	if tokens := EstimateTokens(ctx); tokens > 200 {
		t.Errorf("context uses %d tokens, budget 200", tokens)
	}
	if !strings.Contains(ctx, "Chapter 30:") {
		t.Error("most recent summary dropped")
	}
	if strings.Contains(ctx, "Chapter 1:") {
		t.Error("oldest summary kept despite budget")
	}
	if strings.Index(ctx, "Chapter 29:") > strings.Index(ctx, "Chapter 30:") {
		t.Error("summaries not in reading order")
	}
}

func TestComposeRewrite(t *testing.T) {
	req := testRequest()
	p := New(0).ComposeRewrite(req, "Chương 45: Nháp\n\nnội dung", []string{"pacing drags", "flat dialogue"})

	for _, want := range []string{"[Editor Feedback]", "- pacing drags", "- flat dialogue", "[Draft]", "nội dung", "Rewrite the whole chapter"} {
		if !strings.Contains(p.User, want) {
			t.Errorf("rewrite prompt missing %q", want)
		}
	}
	if fb := New(0).ComposeRewrite(req, "d", nil); !strings.Contains(fb.User, "fell below the quality bar") {
		t.Error("missing generic feedback when no issues given")
	}
}

func TestEstimateTokens(t *testing.T) {
	for _, n := range []int{0, 1, 4, 5, 400} {
		s := strings.Repeat("a", n)
		if got, want := EstimateTokens(s), (n+3)/4; got != want {
			t.Errorf("EstimateTokens(len %d) = %d, want %d", n, got, want)
		}
	}
}
