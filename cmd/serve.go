package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lehigh-university-libraries/bibfixer/internal/crossref"
	"github.com/lehigh-university-libraries/bibfixer/internal/fixer"
	"github.com/lehigh-university-libraries/bibfixer/internal/handlers"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port string
	var workers int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API for fixing uploaded bibliographies",
		Long: `Starts the bibfixer HTTP API on the specified port.

POST a BibTeX file to /api/fix, either as the raw request body or as a
multipart "file" field. Each upload becomes a session whose corrected
bibliography can be downloaded from /api/sessions/{id}/bib.`,
		Example: `  # Start server on default port 8888
  bibfixer serve

  # Start server on custom port
  bibfixer serve --port 3000

  # Fix a file against a running server
  curl --data-binary @refs.bib http://localhost:8888/api/fix`,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := resolveWorkers(workers)
			if err != nil {
				return err
			}

			client := crossref.NewClient(os.Getenv("CROSSREF_URL"), os.Getenv("CROSSREF_MAILTO"))
			handler := handlers.New(fixer.New(func() fixer.Searcher { return client.NewCaller() }, n))

			// Set up routes
			mux := http.NewServeMux()
			mux.HandleFunc("/api/fix", handler.HandleFix)
			mux.HandleFunc("/api/sessions", handler.HandleSessions)
			mux.HandleFunc("/api/sessions/", handler.HandleSessionDetail)
			mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
				if _, err := w.Write([]byte("OK")); err != nil {
					slog.Error("Unable to write healthcheck", "err", err)
				}
			})

			addr := ":" + port
			server := &http.Server{
				Addr:    addr,
				Handler: mux,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Bibfixer API available", "addr", addr, "url", "http://localhost"+addr, "workers", n)
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
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8888", "Port to listen on")
	cmd.Flags().IntVarP(&workers, "threads", "t", fixer.DefaultWorkers, "Number of parallel workers per upload")

	return cmd
}
