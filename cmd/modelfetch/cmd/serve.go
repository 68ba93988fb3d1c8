package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"modelfetch/internal/fetch"
	"modelfetch/internal/logging"
	"modelfetch/internal/server"
	"modelfetch/internal/store"
)

// serveCmd runs the fetch daemon: HTTP API, websocket status feed and
// SQLite-backed fetch history.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API for starting and observing fetches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		man, loc, err := loadManifest()
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(cfg.AbsDBPath), 0o755); err != nil {
			return err
		}
		st, err := store.Open(cfg.AbsDBPath)
		if err != nil {
			return err
		}

		// Attempts left mid-flight by a previous run cannot be resumed.
		if _, err := st.MarkInterrupted(context.Background()); err != nil {
			logging.LogDBOperation("mark_interrupted", 0, err)
		}

		fetcher := fetch.New(loc,
			fetch.WithChunkSize(cfg.ChunkSize),
			fetch.WithInactivityTimeout(cfg.InactivityTimeout),
		)
		mgr := fetch.NewManager(fetcher, loc, cfg.Retain)
		mgr.SetHooks(&storeHooks{st: st})

		srv := &http.Server{
			Addr:              cfg.Addr,
			Handler:           server.New(mgr, man, loc, st),
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      0, // the websocket feed streams indefinitely
			IdleTimeout:       60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logging.LogServerStart(cfg.Addr, cfg.Summary())
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		select {
		case err := <-errCh:
			mgr.Shutdown()
			_ = st.Close()
			return err
		case <-shutdownCtx.Done():
		}
		logging.LogServerShutdown("shutdown signal received; draining", nil)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		mgr.StopAccepting()
		if err := srv.Shutdown(ctx); err != nil {
			logging.LogServerShutdown("http shutdown", err)
		}
		mgr.Shutdown()
		if err := st.Close(); err != nil {
			logging.LogServerShutdown("db close", err)
		}
		logging.LogServerShutdown("shutdown complete", nil)
		return nil
	},
}

// storeHooks mirrors in-memory attempt transitions into the fetch history.
type storeHooks struct {
	st *store.Store
}

func (h *storeHooks) OnProgress(dbID int64, progress int) {
	if err := h.st.UpdateProgress(context.Background(), dbID, progress); err != nil {
		logging.LogDBOperation("update_progress", dbID, err)
	}
}

func (h *storeHooks) OnStateChange(dbID int64, state fetch.State, errMsg string) {
	if err := h.st.UpdateStatus(context.Background(), dbID, string(state), errMsg); err != nil {
		logging.LogDBOperation("update_status", dbID, err)
	}
}

func init() {
	serveCmd.Flags().StringVar(&cfg.Host, "host", "0.0.0.0", "Host address to bind")
	serveCmd.Flags().IntVar(&cfg.Port, "port", 8080, "Server port")
	rootCmd.AddCommand(serveCmd)
}
