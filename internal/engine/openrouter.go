package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/inkwell/internal/proxy"
)

// OpenRouter generates text through the OpenRouter API.
type OpenRouter struct {
	client       *proxy.Client
	defaultModel string
}

func NewOpenRouter(client *proxy.Client, model string) *OpenRouter {
	return &OpenRouter{client: client, defaultModel: model}
}

func (e *OpenRouter) Generate(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	req := proxy.ChatRequest{
		Model:     opts.Model,
		MaxTokens: opts.MaxTokens,
	}
	if req.Model == "" {
		req.Model = e.defaultModel
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		req.Temperature = &t
	}
	if opts.Schema != nil {
		req.ResponseFormat = &proxy.ResponseFormat{Type: "json_object"}
	}
	if systemPrompt != "" {
		req.Messages = append(req.Messages, proxy.Message{Role: "system", Content: systemPrompt})
	}
	req.Messages = append(req.Messages, proxy.Message{Role: "user", Content: userPrompt})

	resp, err := e.client.Complete(ctx, req)
	if errors.Is(err, proxy.ErrContentPolicy) {
		return "", fmt.Errorf("openrouter %s: %w", req.Model, ErrContentBlocked)
	}
	if err != nil {
		return "", fmt.Errorf("openrouter generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openrouter generate: no choices returned")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == proxy.FinishContentFilter {
		return "", fmt.Errorf("openrouter %s: finish_reason %s: %w", req.Model, choice.FinishReason, ErrContentBlocked)
	}
	out := strings.TrimSpace(choice.Message.Content)
	if out == "" {
		return "", fmt.Errorf("openrouter generate: empty response from %s", req.Model)
	}
	return out, nil
}
