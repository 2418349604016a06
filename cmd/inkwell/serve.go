package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/inkwell/internal/api"
	"github.com/kalambet/inkwell/internal/config"
	"github.com/kalambet/inkwell/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, queue workers, retention sweeper and batch scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if workers, _ := cmd.Flags().GetInt("workers"); cmd.Flags().Changed("workers") {
			cfg.Queue.Workers = workers
		}
		if noSchedule, _ := cmd.Flags().GetBool("no-schedule"); noSchedule {
			cfg.Writer.BatchInterval = 0
		}
		return runServe(cfg)
	},
}

func init() {
	serveCmd.Flags().Int("workers", 0, "number of queue workers (overrides queue.workers)")
	serveCmd.Flags().Bool("no-schedule", false, "do not enqueue periodic batch_write jobs")
}

func runServe(cfg config.Config) error {
	fmt.Fprintf(os.Stderr, "inkwell version %s\n", version)
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, true, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	if n, err := rt.queue.RecoverStalled(ctx); err != nil {
		slog.Error("recovering stalled jobs", "error", err)
	} else if n > 0 {
		slog.Info("recovered jobs left processing", "count", n)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewHandler(api.Deps{
			Jobs:          rt.queue,
			Productions:   rt.store,
			Tracking:      rt.tracking,
			RetentionDays: cfg.Queue.RetentionDays,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("inkwell listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	for i := range cfg.Queue.Workers {
		w := worker.New(rt.queue, cfg.Queue.PollInterval)
		rt.handlers.Register(w)
		g.Go(func() error {
			slog.Debug("queue worker started", "worker", i)
			w.Run(gctx)
			return nil
		})
	}
	if cfg.Queue.Workers == 0 {
		slog.Warn("no queue workers configured; jobs will only be enqueued")
	}

	g.Go(func() error {
		worker.NewSweeper(rt.queue, time.Hour, cfg.Queue.RetentionDays).Run(gctx)
		return nil
	})

	g.Go(func() error {
		worker.NewBatchScheduler(rt.queue, cfg.Writer.BatchInterval).Run(gctx)
		return nil
	})

	return g.Wait()
}
