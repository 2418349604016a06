package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/inkwell/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, inference backend and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			// Still show partial status even if config fails.
			printError("config error: %v", err)
			return nil
		}
		client := &apiClient{
			baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
			httpClient: &http.Client{Timeout: 2 * time.Second},
		}
		showStatus(cmd.Context(), cfg, client, cmd.OutOrStdout())
		return nil
	},
}

func showStatus(ctx context.Context, cfg config.Config, client *apiClient, w io.Writer) {
	running := false
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus(w, "Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus(w, "Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus(w, "Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.Generation.Provider == config.ProviderOllama || cfg.Quality.LLMEnabled {
		ollamaResp, err := client.httpClient.Get(cfg.Ollama.BaseURL + "/api/version")
		if err != nil {
			printStatus(w, "Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus(w, "Ollama", "running at %s", cfg.Ollama.BaseURL)
		}
	}

	printStatus(w, "Provider", "%s", cfg.Generation.Provider)
	printStatus(w, "Writer model", "%s", cfg.Generation.Model)
	if cfg.Quality.LLMEnabled {
		printStatus(w, "Scorer model", "%s", cfg.Ollama.ScorerModel)
	} else {
		printStatus(w, "Scorer model", "heuristic")
	}

	if running {
		var s queueStats
		if resp, err := client.get(ctx, "/jobs/stats"); err == nil && decodeJSON(resp, &s) == nil {
			printStatus(w, "Queue", "%d pending, %d processing, %d retrying, %d failed",
				s.Pending, s.Processing, s.Retrying+s.Timeout, s.Failed)
		}
	}

	printStatus(w, "Data dir", "%s", cfg.Storage.DataDir)
	printStatus(w, "Export dir", "%s", cfg.Export.Dir)
}
