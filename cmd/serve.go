package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/export"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve read-only run status over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(st, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter returns the status API handler.
func buildRouter(st store.Store, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			runs, err := st.ListRecent(req.Context(), limit)
			if err != nil {
				serverError(w, req, err)
				return
			}
			if runs == nil {
				runs = []store.RunInfo{}
			}
			writeJSON(w, http.StatusOK, runs)
		})

		r.Get("/{runID}", func(w http.ResponseWriter, req *http.Request) {
			snap, ok := loadRun(w, req, st)
			if !ok {
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})

		r.Get("/{runID}/sends", func(w http.ResponseWriter, req *http.Request) {
			recs, err := st.ListSends(req.Context(), chi.URLParam(req, "runID"))
			if err != nil {
				serverError(w, req, err)
				return
			}
			if recs == nil {
				recs = []model.SendRecord{}
			}
			writeJSON(w, http.StatusOK, recs)
		})

		r.Get("/{runID}/export.csv", exportHandler(st, export.FormatCSV, "text/csv"))
		r.Get("/{runID}/export.xlsx", exportHandler(st, export.FormatXLSX,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
	})

	return r
}

func exportHandler(st store.Store, f export.Format, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap, ok := loadRun(w, req, st)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", snap.RunID+"."+string(f)))
		if err := export.Write(w, f, export.Rows(snap)); err != nil {
			zap.L().Error("export failed", zap.String("run_id", snap.RunID), zap.Error(err))
		}
	}
}

// loadRun writes a 404 or 500 and reports false when the run is unavailable.
func loadRun(w http.ResponseWriter, req *http.Request, st store.Store) (*model.Snapshot, bool) {
	id := chi.URLParam(req, "runID")
	snap, err := st.Load(req.Context(), id)
	if err != nil {
		serverError(w, req, err)
		return nil, false
	}
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return nil, false
	}
	return snap, true
}

func serverError(w http.ResponseWriter, req *http.Request, err error) {
	zap.L().Error("request failed",
		zap.String("path", req.URL.Path),
		zap.String("request_id", middleware.GetReqID(req.Context())),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
