package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/inkwell/internal/storage"
)

const defaultMaxContextTokens = 4000

// Tension levels derived from an arc's tension target.
const (
	TensionHigh   = "high"
	TensionMedium = "medium"
	TensionLow    = "low"
)

// TensionLevel maps a 0-100 tension target to a level name.
func TensionLevel(target int) string {
	switch {
	case target > 70:
		return TensionHigh
	case target > 40:
		return TensionMedium
	default:
		return TensionLow
	}
}

// ChapterRequest carries everything known about the chapter to be written.
type ChapterRequest struct {
	Blueprint     storage.Blueprint
	Author        storage.Author
	ChapterNumber int
	TotalChapters int
	TargetWords   int

	// Recent holds summaries of the preceding chapters, oldest first.
	Recent []storage.Chapter

	ProgressionContext string
	ItemContext        string
}

// Prompt is a system/user prompt pair for the text-generation provider.
type Prompt struct {
	System string
	User   string
}

// Composer assembles chapter-writing prompts. Story context injected into
// the user prompt is kept within MaxContextTokens; the oldest chapter
// summaries are dropped first.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose builds the prompt for a first draft.
func (c *Composer) Compose(req ChapterRequest) Prompt {
	var sb strings.Builder
	c.writeBrief(&sb, req)
	sb.WriteString(c.buildContext(req))
	sb.WriteString(instructions(req))
	return Prompt{System: systemPrompt(req.Author), User: sb.String()}
}

// ComposeRewrite builds the prompt for revising a draft that scored below
// the quality bar. The editor's issues are listed before the draft.
func (c *Composer) ComposeRewrite(req ChapterRequest, draft string, issues []string) Prompt {
	var sb strings.Builder
	c.writeBrief(&sb, req)
	sb.WriteString(c.buildContext(req))

	sb.WriteString("\n[Editor Feedback]\n")
	if len(issues) == 0 {
		sb.WriteString("- The draft fell below the quality bar. Tighten prose and pacing.\n")
	}
	for _, is := range issues {
		fmt.Fprintf(&sb, "- %s\n", is)
	}

	sb.WriteString("\n[Draft]\n")
	sb.WriteString(draft)
	sb.WriteString("\n\nRewrite the whole chapter, fixing every point of feedback while keeping the plot events of the draft.\n")
	sb.WriteString(instructions(req))
	return Prompt{System: systemPrompt(req.Author), User: sb.String()}
}

func systemPrompt(a storage.Author) string {
	if a.SystemPrompt != "" {
		return a.SystemPrompt
	}
	var sb strings.Builder
	sb.WriteString("You are a serialized web-novel author")
	if a.Name != "" {
		fmt.Fprintf(&sb, " writing as %s", a.Name)
	}
	sb.WriteString(".")
	if a.Style != "" {
		fmt.Fprintf(&sb, " Style: %s.", strings.TrimSuffix(a.Style, "."))
	}
	if a.Voice != "" {
		fmt.Fprintf(&sb, " Voice: %s.", strings.TrimSuffix(a.Voice, "."))
	}
	sb.WriteString(" Keep continuity with earlier chapters and never contradict the tracked power levels or items.")
	return sb.String()
}

func (c *Composer) writeBrief(sb *strings.Builder, req ChapterRequest) {
	bp := req.Blueprint
	fmt.Fprintf(sb, "[Story]\nTitle: %s\n", bp.Title)
	if bp.Genre != "" {
		fmt.Fprintf(sb, "Genre: %s\n", bp.Genre)
	}
	if bp.Synopsis != "" {
		fmt.Fprintf(sb, "Synopsis: %s\n", bp.Synopsis)
	}

	if req.TotalChapters > 0 {
		fmt.Fprintf(sb, "\n[Chapter]\nChapter %d of %d\n", req.ChapterNumber, req.TotalChapters)
	} else {
		fmt.Fprintf(sb, "\n[Chapter]\nChapter %d\n", req.ChapterNumber)
	}

	if arc, ok := bp.ArcFor(req.ChapterNumber); ok {
		fmt.Fprintf(sb, "Arc: %s (chapters %d-%d)\n", arc.Name, arc.StartChapter, arc.EndChapter)
		if arc.Summary != "" {
			fmt.Fprintf(sb, "Arc outline: %s\n", arc.Summary)
		}
		fmt.Fprintf(sb, "Target tension: %s\n", TensionLevel(arc.TensionTarget))
	} else {
		fmt.Fprintf(sb, "Target tension: %s\n", TensionLevel(0))
	}
}

// buildContext renders tracker state and recent summaries, dropping the
// oldest summaries once the budget is exhausted.
func (c *Composer) buildContext(req ChapterRequest) string {
	var fixed strings.Builder
	if req.ProgressionContext != "" {
		fixed.WriteString("\n[Power Progression]\n")
		fixed.WriteString(strings.TrimSpace(req.ProgressionContext))
		fixed.WriteString("\n")
	}
	if req.ItemContext != "" {
		fixed.WriteString("\n[Items]\n")
		fixed.WriteString(strings.TrimSpace(req.ItemContext))
		fixed.WriteString("\n")
	}

	remaining := c.MaxContextTokens - EstimateTokens(fixed.String())
	header := "\n[Previously]\n"
	remaining -= EstimateTokens(header)

	var selected []string
	for i := len(req.Recent) - 1; i >= 0; i-- {
		ch := req.Recent[i]
		entry := fmt.Sprintf("Chapter %d: %s\n", ch.Number, strings.TrimSpace(ch.Summary))
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			break
		}
		selected = append(selected, entry)
		remaining -= tokens
	}

	if len(selected) == 0 {
		return fixed.String()
	}
	var sb strings.Builder
	sb.WriteString(header)
	for i := len(selected) - 1; i >= 0; i-- {
		sb.WriteString(selected[i])
	}
	sb.WriteString(fixed.String())
	return sb.String()
}

func instructions(req ChapterRequest) string {
	words := req.TargetWords
	if words <= 0 {
		words = 2500
	}
	return fmt.Sprintf("\n[Instructions]\n"+
		"Write chapter %d in the language of the synopsis, about %d words.\n"+
		"Start with a single heading line \"Chương %d: <title>\" and then the chapter text.\n"+
		"Do not add notes, summaries or commentary after the chapter.\n",
		req.ChapterNumber, words, req.ChapterNumber)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
