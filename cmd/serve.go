package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the JSON API server",
		Long: `Starts the Wagner API on the specified port.

The API manages books and pages, ingests page scans, resolves continuation
proposals and exports finished books.`,
		Example: `  # Start server on the configured port (default 8888)
  wagner serve

  # Start server on custom port
  wagner serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				if port == "" {
					port = a.config.Server.Port
				}
				addr := ":" + port
				server := &http.Server{
					Addr:              addr,
					Handler:           a.handler().Routes(),
					ReadHeaderTimeout: 10 * time.Second,
				}

				// Start server in goroutine
				serverErr := make(chan error, 1)
				go func() {
					slog.Info("Wagner API available", "addr", addr, "url", "http://localhost"+addr)
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						serverErr <- err
					}
				}()

				// Wait for context cancellation (Ctrl+C) or server error
				select {
				case <-cmd.Context().Done():
					slog.Info("Shutting down server...")
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := server.Shutdown(shutdownCtx); err != nil {
						slog.Error("Server shutdown failed", "err", err)
						return err
					}
					slog.Info("Server stopped")
					return nil
				case err := <-serverErr:
					return err
				}
			})
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides config)")

	return cmd
}
