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

	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/internal/monitoring"
	"github.com/sells-group/trackscout/internal/pipeline"
	"github.com/sells-group/trackscout/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for track and batch enrichment",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnrichment(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store, env.Budget)
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		api := &apiServer{
			processor:     env.Orchestrator,
			outcomes:      env.Store,
			budgets:       env.Budget,
			metrics:       collector,
			lookbackHours: cfg.Monitoring.LookbackWindowHours,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.routes(cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
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

// trackProcessor runs jobs. *pipeline.Orchestrator satisfies it.
type trackProcessor interface {
	ProcessOne(ctx context.Context, raw string) *model.JobOutcome
	ProcessBatch(ctx context.Context, ids []string, batchSize int) (*model.BatchSummary, error)
}

type outcomeReader interface {
	GetOutcome(ctx context.Context, id string) (*model.JobOutcome, error)
}

type metricsCollector interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// apiServer holds the handlers' dependencies.
type apiServer struct {
	processor     trackProcessor
	outcomes      outcomeReader
	budgets       monitoring.BudgetReporter
	metrics       metricsCollector
	lookbackHours int
}

func (s *apiServer) routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/budget", s.handleBudget)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/tracks/{isrc}", s.handleTrack)
	r.Post("/batches", s.handleBatch)
	r.Get("/outcomes/{id}", s.handleOutcome)
	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleBudget(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.budgets.Statuses())
}

func (s *apiServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	lookback := s.lookbackHours
	if v := r.URL.Query().Get("lookback_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "lookback_hours must be a positive integer")
			return
		}
		lookback = n
	}
	snap, err := s.metrics.Collect(r.Context(), lookback)
	if err != nil {
		zap.L().Error("metrics collection failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "metrics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *apiServer) handleTrack(w http.ResponseWriter, r *http.Request) {
	out := s.processor.ProcessOne(r.Context(), chi.URLParam(r, "isrc"))
	status := http.StatusOK
	if out.Status == model.JobStatusFailed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, out)
}

type batchRequest struct {
	ISRCs     []string `json:"isrcs"`
	BatchSize int      `json:"batch_size"`
}

func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ISRCs) == 0 {
		writeError(w, http.StatusBadRequest, "isrcs is required")
		return
	}

	summary, err := s.processor.ProcessBatch(r.Context(), req.ISRCs, req.BatchSize)
	switch {
	case errors.Is(err, pipeline.ErrBatchTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, summary)
	case err != nil:
		zap.L().Warn("batch ended early", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, summary)
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *apiServer) handleOutcome(w http.ResponseWriter, r *http.Request) {
	out, err := s.outcomes.GetOutcome(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "outcome not found")
		return
	}
	if err != nil {
		zap.L().Error("get outcome failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "outcome unavailable")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
