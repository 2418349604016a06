package engine

import (
	"fmt"

	"github.com/kalambet/inkwell/internal/proxy"
)

const (
	ProviderOllama     = "ollama"
	ProviderOpenRouter = "openrouter"
)

// Config selects and configures a text-generation provider.
type Config struct {
	Provider         string
	Model            string
	OllamaBaseURL    string
	OpenRouterAPIKey string
}

// New returns the Generator named by cfg.Provider. An empty provider means Ollama.
func New(cfg Config) (Generator, error) {
	switch cfg.Provider {
	case "", ProviderOllama:
		return NewOllama(cfg.OllamaBaseURL, cfg.Model), nil
	case ProviderOpenRouter:
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("openrouter provider requires an API key (INKWELL_OPENROUTER_API_KEY)")
		}
		return NewOpenRouter(proxy.NewClient(cfg.OpenRouterAPIKey), cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}
