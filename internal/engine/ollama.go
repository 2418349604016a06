package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/inkwell/internal/ollama"
)

// Ollama generates text with a local Ollama server.
type Ollama struct {
	client       *ollama.Client
	defaultModel string
}

// NewOllama creates a generator for the Ollama server at baseURL. model is
// used when a call does not name one.
func NewOllama(baseURL, model string) *Ollama {
	return &Ollama{client: ollama.New(baseURL), defaultModel: model}
}

func (e *Ollama) Generate(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = e.defaultModel
	}
	if model == "" {
		return "", fmt.Errorf("ollama: no model configured")
	}

	msgs := make([]ollama.Message, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, ollama.Message{Role: "user", Content: userPrompt})

	out, err := e.client.Chat(ctx, model, msgs, ollama.Options{
		Temperature: opts.Temperature,
		NumPredict:  opts.MaxTokens,
	}, toOllamaSchema(opts.Schema))
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("ollama generate: empty response from %s", model)
	}
	return out, nil
}

func (e *Ollama) IsRunning(ctx context.Context) bool { return e.client.IsRunning(ctx) }

func (e *Ollama) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *Ollama) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{Status: p.Status, Total: p.Total, Completed: p.Completed})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}

func toOllamaSchema(s *Schema) *ollama.Schema {
	if s == nil {
		return nil
	}
	out := &ollama.Schema{Type: s.Type, Required: s.Required}
	if s.Properties != nil {
		out.Properties = make(map[string]ollama.SchemaProperty, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = ollama.SchemaProperty{Type: v.Type, Description: v.Description}
		}
	}
	return out
}
