package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lehigh-university-libraries/visionbatch/internal/handlers"
	"github.com/lehigh-university-libraries/visionbatch/internal/storage"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the batch classification web service",
		Long: `Starts the Visionbatch HTTP API on the specified port.

Uploaded batches are classified in the background; clients poll
/api/progress/{job_id} or stream it over a websocket, then fetch results
from /api/results/{result_id}.`,
		Example: `  # Start server on default port 8888
  visionbatch serve

  # Start server on custom port with a config file
  visionbatch serve --port 3000 --config visionbatch.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			sessions := storage.NewSessionStore()
			handler := handlers.New(a.service, sessions, cfg, slog.Default())

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			a.service.StartJanitor(ctx, cfg.ResultTTL, 0, sessions.Sweep)

			addr := ":" + cfg.Port
			server := &http.Server{
				Addr:              addr,
				Handler:           handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Visionbatch interface available", "addr", addr, "url", "http://localhost"+addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancelShutdown()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				if err := a.runner.Shutdown(shutdownCtx); err != nil {
					slog.Warn("Background jobs did not finish before shutdown", "err", err)
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (default $PORT or 8888)")

	return cmd
}
