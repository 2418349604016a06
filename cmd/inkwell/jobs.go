package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/inkwell/internal/storage"
)

// jobSummary is the subset of the API job view the CLI prints.
type jobSummary struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Type            string          `json:"type"`
	Status          string          `json:"status"`
	Priority        int             `json:"priority"`
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"max_attempts"`
	Progress        int             `json:"progress"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Error           string          `json:"error,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type queueStats struct {
	Pending       int     `json:"pending"`
	Processing    int     `json:"processing"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Retrying      int     `json:"retrying"`
	Timeout       int     `json:"timeout"`
	Total         int     `json:"total"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage the job queue of a running server",
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runJobsStats(cmd.Context(), client, cmd.OutOrStdout())
	},
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create <type>",
	Short: "Enqueue a job",
	Long: `Enqueue a job on the running server.

Job types: write_chapter, batch_write, analyze_chapter, generate_summary, export_story

Examples:
  inkwell jobs create batch_write
  inkwell jobs create write_chapter --payload '{"task_id":"..."}' --priority 5
  inkwell jobs create export_story --payload '{"production_id":"prod-1"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobType := storage.JobType(args[0])
		if !jobType.Valid() {
			return fmt.Errorf("unknown job type %q", args[0])
		}
		payload, _ := cmd.Flags().GetString("payload")
		if payload != "" && !json.Valid([]byte(payload)) {
			return fmt.Errorf("--payload is not valid JSON")
		}
		owner, _ := cmd.Flags().GetString("owner")
		priority, _ := cmd.Flags().GetInt("priority")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
		delay, _ := cmd.Flags().GetDuration("delay")

		req := map[string]any{
			"type":         jobType,
			"owner_id":     owner,
			"priority":     priority,
			"max_attempts": maxAttempts,
		}
		if payload != "" {
			req["payload"] = json.RawMessage(payload)
		}
		if delay > 0 {
			req["scheduled_for"] = time.Now().Add(delay).UTC()
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runJobsCreate(cmd.Context(), client, req, cmd.OutOrStdout())
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/jobs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var job any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/jobs/"+url.PathEscape(args[0])+"/cancel", map[string]string{"owner_id": owner})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Cancelled job %s", args[0])
		return nil
	},
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished jobs older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/jobs/cleanup"
		if days > 0 {
			path += fmt.Sprintf("?days=%d", days)
		}
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}
		var out struct {
			Deleted int64 `json:"deleted"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Deleted %d jobs", out.Deleted)
		return nil
	},
}

func init() {
	jobsCreateCmd.Flags().String("payload", "", "job payload as JSON")
	jobsCreateCmd.Flags().String("owner", "cli", "owner id recorded on the job")
	jobsCreateCmd.Flags().Int("priority", 0, "higher runs first")
	jobsCreateCmd.Flags().Int("max-attempts", 0, "attempts before the job fails (default 3)")
	jobsCreateCmd.Flags().Duration("delay", 0, "schedule the job this far in the future")
	jobsCancelCmd.Flags().String("owner", "cli", "owner id the job was created with")
	jobsCleanupCmd.Flags().Int("days", 0, "retention in days (default queue.retention_days)")

	jobsCmd.AddCommand(jobsStatsCmd)
	jobsCmd.AddCommand(jobsCreateCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsCleanupCmd)
}

func runJobsStats(ctx context.Context, client *apiClient, w io.Writer) error {
	resp, err := client.get(ctx, "/jobs/stats")
	if err != nil {
		return err
	}
	var s queueStats
	if err := decodeJSON(resp, &s); err != nil {
		return err
	}
	printStatus(w, "Pending", "%d", s.Pending)
	printStatus(w, "Processing", "%d", s.Processing)
	printStatus(w, "Retrying", "%d", s.Retrying)
	printStatus(w, "Timed out", "%d", s.Timeout)
	printStatus(w, "Completed", "%d", s.Completed)
	printStatus(w, "Failed", "%d", s.Failed)
	printStatus(w, "Total", "%d", s.Total)
	if s.AvgDurationMs > 0 {
		printStatus(w, "Avg duration", "%s", time.Duration(s.AvgDurationMs*float64(time.Millisecond)).Round(time.Millisecond))
	}
	return nil
}

func runJobsCreate(ctx context.Context, client *apiClient, req map[string]any, w io.Writer) error {
	resp, err := client.post(ctx, "/jobs", req)
	if err != nil {
		return err
	}
	var job jobSummary
	if err := decodeJSON(resp, &job); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s  %s  %s\n", colorize(colorCyan, job.ID), job.Type, colorize(statusColor(job.Status), job.Status))
	return nil
}
