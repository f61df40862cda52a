// Package api exposes the HTTP trigger and monitoring surface of the
// pipeline: snapshot ingest, explicit rescore, registry inspection, health
// and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
	"github.com/oybaeko/HubSpotPipeline/internal/infra/storage"
	"github.com/oybaeko/HubSpotPipeline/internal/ingest"
	"github.com/oybaeko/HubSpotPipeline/internal/scoring"
)

// HealthChecker reports readiness of a backing dependency.
type HealthChecker func(ctx context.Context) error

// Server wires the pipeline components behind HTTP.
type Server struct {
	writer       *ingest.Writer
	orchestrator *scoring.Orchestrator
	registry     storage.RegistryRepository
	source       ingest.Source
	health       []HealthChecker
	logLevel     *slog.LevelVar
	log          *slog.Logger
	server       *http.Server

	ingestDeadline time.Duration
	defaultLimit   int
}

// Config holds server settings.
type Config struct {
	Port           int
	DefaultLimit   int
	IngestDeadline time.Duration
}

// NewServer creates the HTTP server.
func NewServer(
	cfg Config,
	writer *ingest.Writer,
	orchestrator *scoring.Orchestrator,
	registry storage.RegistryRepository,
	source ingest.Source,
	health []HealthChecker,
	logLevel *slog.LevelVar,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		writer:         writer,
		orchestrator:   orchestrator,
		registry:       registry,
		source:         source,
		health:         health,
		logLevel:       logLevel,
		log:            log,
		ingestDeadline: cfg.IngestDeadline,
		defaultLimit:   cfg.DefaultLimit,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Post("/ingest", s.handleIngest)
	r.Post("/score/{snapshotID}", s.handleScore)
	r.Get("/snapshots", s.handleSnapshots)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type ingestRequest struct {
	Limit    int    `json:"limit"`
	NoLimit  bool   `json:"no_limit"`
	DryRun   bool   `json:"dry_run"`
	LogLevel string `json:"log_level"`
}

type ingestResponse struct {
	Status     string                    `json:"status"`
	SnapshotID string                    `json:"snapshot_id"`
	Counts     map[domain.EntityKind]int `json:"record_counts,omitempty"`
	DryRun     bool                      `json:"dry_run,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	// An empty or malformed body falls back to defaults; the trigger
	// accepts bare POSTs.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.log.Warn("failed to parse ingest request body, using defaults", "error", err)
	}

	if req.LogLevel != "" && s.logLevel != nil {
		if lvl, err := parseLevel(req.LogLevel); err == nil {
			s.logLevel.Set(lvl)
			s.log.Info("log level adjusted", "level", req.LogLevel)
		} else {
			s.log.Warn("ignoring unknown log level", "log_level", req.LogLevel)
		}
	}

	limit := req.Limit
	if limit == 0 {
		limit = s.defaultLimit
	}
	if req.NoLimit {
		limit = 0
	}

	ctx := r.Context()
	if s.ingestDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ingestDeadline)
		defer cancel()
	}

	batch, err := s.source.Fetch(ctx, limit)
	if err != nil {
		s.log.Error("record fetch failed", "error", err)
		writeJSON(w, http.StatusBadGateway, ingestResponse{
			Status: "error",
			Error:  fmt.Sprintf("fetch failed: %v", err),
		})
		return
	}

	summary, err := s.writer.WriteSnapshot(ctx, batch, ingest.Options{
		TriggeredBy: "http",
		DryRun:      req.DryRun,
	})
	if err != nil {
		resp := ingestResponse{Status: "error", Error: err.Error()}
		code := http.StatusInternalServerError
		if summary != nil {
			resp.Status = summary.Status
			resp.SnapshotID = summary.SnapshotID
			resp.Counts = summary.Counts
			if summary.Status == "partial_success" {
				code = http.StatusPartialContent
			}
		}
		writeJSON(w, code, resp)
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Status:     summary.Status,
		SnapshotID: summary.SnapshotID,
		Counts:     summary.Counts,
		DryRun:     summary.DryRun,
	})
}

type scoreResponse struct {
	Status     string `json:"status"`
	SnapshotID string `json:"snapshot_id"`
	Units      int    `json:"pipeline_units,omitempty"`
	History    int    `json:"score_history,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	snapshotID := chi.URLParam(r, "snapshotID")
	recompute := r.URL.Query().Get("recompute") == "true"

	result, err := s.orchestrator.ProcessSnapshot(r.Context(), snapshotID,
		scoring.Options{Recompute: recompute})
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		writeJSON(w, http.StatusNotFound, scoreResponse{
			Status: "error", SnapshotID: snapshotID, Error: "snapshot not found",
		})
		return
	}
	if err != nil {
		resp := scoreResponse{Status: "failed", SnapshotID: snapshotID, Error: err.Error()}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	writeJSON(w, http.StatusOK, scoreResponse{
		Status:     result.Status,
		SnapshotID: result.SnapshotID,
		Units:      result.Units,
		History:    result.History,
	})
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.registry.List(r.Context(), 100)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	type snapshotView struct {
		SnapshotID   string                    `json:"snapshot_id"`
		Status       domain.SnapshotStatus     `json:"status"`
		TriggeredBy  string                    `json:"triggered_by"`
		Timestamp    time.Time                 `json:"snapshot_timestamp"`
		RecordCounts map[domain.EntityKind]int `json:"record_counts"`
		Notes        []string                  `json:"notes"`
	}
	views := make([]snapshotView, len(snaps))
	for i, snap := range snaps {
		views[i] = snapshotView{
			SnapshotID:   snap.SnapshotID,
			Status:       snap.Status,
			TriggeredBy:  snap.TriggeredBy,
			Timestamp:    snap.Timestamp,
			RecordCounts: snap.RecordCounts,
			Notes:        snap.Notes,
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.health {
		if err := check(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return lvl, nil
}
