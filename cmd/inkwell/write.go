package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/inkwell/internal/config"
	"github.com/kalambet/inkwell/internal/writer"
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write due chapters now, without going through the job queue",
	Long: `Run one writer batch in the foreground: claim due write tasks, generate,
score and persist each chapter, and print the outcome.

Examples:
  inkwell write
  inkwell write --task 7f3c2a4e-...
  inkwell write --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID, _ := cmd.Flags().GetString("task")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := openRuntime(ctx, cfg, true, os.Stderr)
		if err != nil {
			return err
		}
		defer rt.Close()

		out := cmd.OutOrStdout()
		if taskID != "" {
			o, err := rt.writer.ProcessTask(ctx, taskID)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, o)
			}
			printOutcome(out, o)
			return nil
		}

		res, err := rt.writer.RunBatch(ctx, func(done, total int) {
			printStep("%d/%d tasks processed", done, total)
		})
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(out, res)
		}
		printBatch(out, res)
		if res.Failed > 0 {
			printWarning("%d tasks failed; details are in the production's factory errors", res.Failed)
		}
		return nil
	},
}

func init() {
	writeCmd.Flags().String("task", "", "process a single write task by id")
	writeCmd.Flags().Bool("json", false, "print the result as JSON")
}

func printOutcome(w io.Writer, o writer.Outcome) {
	status := colorize(statusColor(string(o.Status)), string(o.Status))
	line := fmt.Sprintf("chapter %d  %s", o.ChapterNumber, status)
	if o.Title != "" {
		line += "  " + o.Title
	}
	if o.WordCount > 0 {
		line += fmt.Sprintf("  %d words  quality %.1f", o.WordCount, o.QualityScore)
	}
	if o.Rewritten {
		line += "  (rewritten)"
	}
	if o.Error != "" {
		line += fmt.Sprintf("  [%s] %s", o.Stage, o.Error)
	}
	fmt.Fprintln(w, line)
}

func printBatch(w io.Writer, res writer.BatchResult) {
	if res.Claimed == 0 {
		fmt.Fprintln(w, "No write tasks are due.")
		return
	}
	for _, o := range res.Outcomes {
		printOutcome(w, o)
	}
	fmt.Fprintf(w, "\n%d claimed, %d completed, %d failed, %d released\n",
		res.Claimed, res.Completed, res.Failed, res.Released)
}
