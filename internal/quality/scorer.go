package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/inkwell/internal/engine"
)

// Result is a chapter quality assessment on a 0-100 scale.
type Result struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues"`
}

// Scorer rates a chapter draft.
type Scorer interface {
	Score(ctx context.Context, text string, chapter int, genre string) (Result, error)
}

// NewScorer returns an LLMScorer when enabled and a Heuristic scorer otherwise.
func NewScorer(gen engine.Generator, model string, enabled bool, timeout time.Duration) Scorer {
	h := &Heuristic{}
	if !enabled || gen == nil {
		return h
	}
	return &LLMScorer{
		gen:      gen,
		model:    model,
		timeout:  timeout,
		fallback: h,
	}
}

// LLMScorer asks a model to grade the draft and falls back to the heuristic
// score when the model fails or answers with something unparseable.
type LLMScorer struct {
	gen      engine.Generator
	model    string
	timeout  time.Duration
	fallback Scorer
}

// maxScoredRunes caps how much of a chapter is sent to the scorer model.
const maxScoredRunes = 12000

const scorerSystemPrompt = `You are a strict web-novel editor. Grade the chapter for prose quality, pacing,
coherence, dialogue and consistency with its genre. Respond with only a JSON object:
{"score": <number 0-100>, "issues": [<short strings naming concrete problems>]}`

var scoreSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"score":  {Type: "number", Description: "Overall quality 0-100"},
		"issues": {Type: "array", Description: "Concrete problems, most important first"},
	},
	Required: []string{"score", "issues"},
}

func (s *LLMScorer) Score(ctx context.Context, text string, chapter int, genre string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{Score: 0, Issues: []string{"empty chapter"}}, nil
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	body := text
	if r := []rune(body); len(r) > maxScoredRunes {
		body = string(r[:maxScoredRunes])
	}
	prompt := fmt.Sprintf("Genre: %s\nChapter: %d\n\n%s", genre, chapter, body)

	resp, err := s.gen.Generate(callCtx, scorerSystemPrompt, prompt, engine.Options{
		Model:       s.model,
		Temperature: 0.1,
		MaxTokens:   400,
		Schema:      scoreSchema,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		slog.Debug("quality: scorer call failed, using heuristic", "chapter", chapter, "error", err)
		return s.fallback.Score(ctx, text, chapter, genre)
	}

	res, err := parseResult(resp)
	if err != nil {
		slog.Debug("quality: parse failed, using heuristic", "chapter", chapter, "resp", resp, "error", err)
		return s.fallback.Score(ctx, text, chapter, genre)
	}
	return res, nil
}

// parseResult extracts a Result from a model response. Small local models
// often wrap JSON in code fences or prepend filler, and some answer on a
// 0-10 or 0-1 scale; those scores are rescaled to 0-100.
func parseResult(resp string) (Result, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return Result{}, fmt.Errorf("no JSON object in response")
	}

	var obj struct {
		Score  json.RawMessage `json:"score"`
		Issues []string        `json:"issues"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return Result{}, fmt.Errorf("unmarshal score: %w", err)
	}
	if len(obj.Score) == 0 {
		return Result{}, fmt.Errorf("missing score")
	}

	score, err := strconv.ParseFloat(strings.Trim(string(obj.Score), `"`), 64)
	if err != nil {
		return Result{}, fmt.Errorf("score %s is not a number", obj.Score)
	}
	switch {
	case score > 0 && score <= 1:
		score *= 100
	case score > 1 && score <= 10:
		score *= 10
	}

	issues := obj.Issues
	if issues == nil {
		issues = []string{}
	}
	return Result{Score: clamp(score), Issues: issues}, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
