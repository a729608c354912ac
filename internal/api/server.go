// Package api exposes the local HTTP interface over the dataset
// orchestrator.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/dataqual/internal/config"
	"github.com/JakeFAU/dataqual/internal/dataqual"
	"github.com/JakeFAU/dataqual/internal/lifecycle"
	"github.com/JakeFAU/dataqual/internal/metrics"
	"github.com/JakeFAU/dataqual/internal/orchestrator"
)

// Server wires HTTP handlers to the orchestrator.
type Server struct {
	router chi.Router
	orch   *orchestrator.Orchestrator
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(orch *orchestrator.Orchestrator, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orch:   orch,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/dashboard", s.getDashboard)
		r.Get("/watches", s.getWatches)
		r.Get("/upload", s.getUploadState)
		r.Post("/upload/reset", s.resetUpload)
		r.Route("/datasets", func(r chi.Router) {
			r.Get("/", s.listDatasets)
			r.Post("/", s.uploadDataset)
			r.Delete("/", s.deleteAllDatasets)
			r.Route("/{dataset_id}", func(r chi.Router) {
				r.Get("/", s.getDataset)
				r.Delete("/", s.deleteDataset)
				r.Get("/jobs", s.listDatasetJobs)
				r.Post("/analyze", s.analyzeDataset)
				r.Post("/clean", s.cleanDataset)
				r.Get("/analysis", s.getAnalysis)
				r.Get("/cleaning", s.getCleaning)
				r.Get("/download", s.downloadDataset)
			})
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Ready once the remote service answers a cheap list call.
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if _, err := s.orch.Datasets(ctx); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "backend unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	view, err := s.orch.Dashboard(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) getWatches(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"watches": s.orch.WatchInfos()})
}

func (s *Server) getUploadState(w http.ResponseWriter, _ *http.Request) {
	up := s.orch.Uploads()
	payload := map[string]any{"state": up.State()}
	if err := up.Err(); err != nil {
		payload["error"] = err.Error()
	}
	if ds, ok := up.Dataset(); ok {
		payload["dataset"] = ds
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) resetUpload(w http.ResponseWriter, _ *http.Request) {
	s.orch.Uploads().Reset()
	s.writeJSON(w, http.StatusOK, map[string]any{"state": s.orch.Uploads().State()})
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.orch.Datasets(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"datasets": datasets})
}

func (s *Server) uploadDataset(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing multipart field \"file\"")
		return
	}
	defer file.Close()

	ds, err := s.orch.Upload(r.Context(), header.Filename, header.Size, file)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ds)
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "dataset_id")
	if !ok {
		return
	}
	ds, err := s.orch.Dataset(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ds)
}

func (s *Server) deleteDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "dataset_id")
	if !ok {
		return
	}
	if err := s.orch.Delete(r.Context(), id); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) deleteAllDatasets(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteAll(r.Context()); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) analyzeDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "dataset_id")
	if !ok {
		return
	}
	job, err := s.orch.Analyze(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) cleanDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "dataset_id")
	if !ok {
		return
	}
	job, err := s.orch.Clean(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "dataset_id")
	if !ok {
		return
	}
	res, pending, err := s.orch.AnalysisResult(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if pending != nil {
		s.writeJSON(w, http.StatusOK, pending)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) getCleaning(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "dataset_id")
	if !ok {
		return
	}
	res, pending, err := s.orch.CleaningResult(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if pending != nil {
		s.writeJSON(w, http.StatusOK, pending)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) downloadDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "dataset_id")
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"dataset_%d\"", id))
	if err := s.orch.Download(r.Context(), id, w); err != nil {
		// Headers may already be on the wire; log instead of rewriting.
		s.logger.Warn("download failed", zap.Int64("dataset_id", id), zap.Error(err))
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.orch.Jobs(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) listDatasetJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "dataset_id")
	if !ok {
		return
	}
	jobs, err := s.orch.DatasetJobs(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"dataset_id": id, "jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "job_id")
	if !ok {
		return
	}
	job, err := s.orch.Job(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "job_id")
	if !ok {
		return
	}
	if err := s.orch.CancelJob(r.Context(), id); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "status": string(dataqual.JobStatusCancelled)})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, raw))
		return 0, false
	}
	return id, true
}

// writeFailure maps orchestrator errors onto HTTP statuses: remote
// failures keep the remote status, validation problems are 400, and
// lifecycle conflicts are 409.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var verr *dataqual.ValidationError
	if errors.As(err, &verr) {
		s.writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	var terr *dataqual.TransportError
	if errors.As(err, &terr) && terr.StatusCode >= 400 {
		s.writeError(w, terr.StatusCode, terr.Message)
		return
	}
	var lerr *lifecycle.InvalidTransitionError
	if errors.As(err, &lerr) {
		s.writeError(w, http.StatusConflict, lerr.Error())
		return
	}
	if errors.Is(err, lifecycle.ErrUnknownDataset) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusGatewayTimeout, "backend request timed out")
		return
	}
	s.writeError(w, http.StatusBadGateway, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(s.logger, w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(s.logger, w, status, map[string]string{"error": msg})
}
