package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/schoolscope/extract-cli/internal/monitoring"
	"github.com/schoolscope/extract-cli/internal/validate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve extraction metrics and conflict reports over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store, env.Breakers)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET"},
		}))

		r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
			if _, err := env.Store.CountByStatus(req.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			snap, err := collector.Collect(req.Context())
			if err != nil {
				zap.L().Error("serve: collect metrics", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "collect failed"})
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})

		// Duplicate natural keys still awaiting a dedupe pass, with the
		// resolution a run would pick.
		r.Get("/conflicts", func(w http.ResponseWriter, req *http.Request) {
			report, err := validate.NewDeduplicator(env.Store).Run(req.Context(), true)
			if err != nil {
				zap.L().Error("serve: conflict report", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "report failed"})
				return
			}
			writeJSON(w, http.StatusOK, report)
		})

		r.Get("/records/{id}", func(w http.ResponseWriter, req *http.Request) {
			rec, err := env.Store.GetRecord(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			if rec == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
				return
			}
			writeJSON(w, http.StatusOK, rec)
		})

		srv := &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Server.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("serve: listening", zap.Int("port", cfg.Server.Port))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return fmt.Errorf("server: %w", err)
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
