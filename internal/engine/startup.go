package engine

import (
	"context"
	"fmt"
	"io"
	"slices"
)

// EnsureReady checks that a local backend is reachable and pulls any of the
// named models it does not have yet. Progress is written to w.
func EnsureReady(ctx context.Context, m ModelManager, models []string, w io.Writer) error {
	if !m.IsRunning(ctx) {
		return fmt.Errorf("local inference engine is not running; start it with: ollama serve")
	}

	var wanted []string
	for _, name := range models {
		if name != "" && !slices.Contains(wanted, name) {
			wanted = append(wanted, name)
		}
	}

	for _, model := range wanted {
		if m.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := m.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}
