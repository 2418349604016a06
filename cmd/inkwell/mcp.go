package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/inkwell/internal/api"
	"github.com/kalambet/inkwell/internal/config"
	"github.com/kalambet/inkwell/internal/jobqueue"
	"github.com/kalambet/inkwell/internal/storage"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the tracker and queue tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		// stdout carries the protocol, so logs stay on stderr.
		setupLogging(cfg.Log.Level)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()
		queue := jobqueue.New(store)
		defer queue.Close()

		trk, err := newTrackingService(store, cfg)
		if err != nil {
			return err
		}

		s := api.NewMCPServer(api.MCPDeps{
			Jobs:     queue,
			Tracking: trk,
			Version:  version,
		})

		slog.Info("MCP server started (stdio transport)")
		if err := server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
