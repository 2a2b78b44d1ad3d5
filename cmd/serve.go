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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tena-analytics/warehouse-cli/internal/analytics"
	"github.com/tena-analytics/warehouse-cli/internal/pipeline"
	"github.com/tena-analytics/warehouse-cli/internal/warehouse"
)

var servePort int

// runStarter triggers pipeline runs.
type runStarter interface {
	Start(ctx context.Context, opts pipeline.Options) (string, error)
}

// runLister reads run history.
type runLister interface {
	List(ctx context.Context, limit int) ([]warehouse.RunEntry, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP surface and the scheduled pipeline",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := warehousePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := warehouse.Migrate(ctx, pool); err != nil {
			return err
		}

		pl := newPipeline(pool)
		router := newRouter(pl, warehouse.NewRunLog(pool), analytics.NewReports(pool))

		sched := cron.New()
		if _, err := sched.AddFunc(cfg.Schedule.Cron, func() {
			runID, err := pl.Start(ctx, pipeline.Options{})
			if errors.Is(err, pipeline.ErrRunInProgress) {
				zap.L().Warn("scheduled run skipped, previous run still in progress")
				return
			}
			if err != nil {
				zap.L().Error("scheduled run failed to start", zap.Error(err))
				return
			}
			zap.L().Info("scheduled run started", zap.String("run_id", runID))
		}); err != nil {
			return eris.Wrapf(err, "serve: bad cron expression %q", cfg.Schedule.Cron)
		}
		sched.Start()
		defer sched.Stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("schedule", cfg.Schedule.Cron),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(pl runStarter, runs runLister, reports *analytics.Reports) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/runs", func(w http.ResponseWriter, req *http.Request) {
		full := req.URL.Query().Get("full") == "true"
		runID, err := pl.Start(req.Context(), pipeline.Options{Full: full})
		if errors.Is(err, pipeline.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "run already in progress"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
	})

	r.Get("/api/runs", func(w http.ResponseWriter, req *http.Request) {
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		entries, err := runs.List(req.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	r.Route("/api/reports", func(r chi.Router) {
		r.Get("/top-products", func(w http.ResponseWriter, req *http.Request) {
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			terms, err := reports.TopTerms(req.Context(), limit)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, terms)
		})

		r.Get("/channels/{name}/activity", func(w http.ResponseWriter, req *http.Request) {
			activity, err := reports.ChannelActivity(req.Context(), chi.URLParam(req, "name"))
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, activity)
		})

		r.Get("/visual-content", func(w http.ResponseWriter, req *http.Request) {
			stats, err := reports.VisualStats(req.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, stats)
		})

		r.Get("/search", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query().Get("q")
			if q == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
				return
			}
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			hits, err := reports.SearchMessages(req.Context(), q, limit)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, hits)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
