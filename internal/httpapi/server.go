// Package httpapi exposes the job pipeline over HTTP: submission, status
// polling, resume, event streams, metrics, and startup diagnostics.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"video-transcriber/internal/diagnostics"
	"video-transcriber/internal/domain"
	"video-transcriber/internal/jobs"
)

// Server holds the handlers' collaborators.
type Server struct {
	orchestrator *jobs.Orchestrator
	events       *jobs.EventBus
	checker      *diagnostics.Checker
	registry     *prometheus.Registry
	logger       zerolog.Logger

	diagnose func() diagnostics.Report
}

// NewServer builds the API server around an orchestrator.
func NewServer(orchestrator *jobs.Orchestrator, events *jobs.EventBus, registry *prometheus.Registry, diagnose func() diagnostics.Report, logger zerolog.Logger) *Server {
	return &Server{
		orchestrator: orchestrator,
		events:       events,
		registry:     registry,
		logger:       logger,
		diagnose:     diagnose,
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs/incomplete", s.handleIncomplete)
		r.Get("/jobs/{id}/status", s.handleStatus)
		r.Get("/jobs/{id}", s.handleDetails)
		r.Post("/jobs/{id}/resume", s.handleResume)
		r.Get("/events", s.handleEvents)
		r.Get("/ws", s.handleWebsocket)
		r.Get("/diagnostics", s.handleDiagnostics)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return r
}

// submitRequest is the submission payload. Exactly one of URL and FilePath
// must be set.
type submitRequest struct {
	URL       string `json:"url"`
	FilePath  string `json:"filePath"`
	Language  string `json:"language"`
	Model     string `json:"model"`
	Translate bool   `json:"translate"`
	OutputDir string `json:"outputDir"`
}

// handleSubmit accepts a job and returns its id immediately. Pipeline
// failures never surface here; they are visible through status and details.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	source, err := sourceFromRequest(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	params := domain.Params{
		Language:  req.Language,
		Model:     req.Model,
		Translate: req.Translate,
		OutputDir: req.OutputDir,
	}

	id, err := s.orchestrator.Submit(r.Context(), source, params)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidParams) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Error().Err(err).Msg("submit failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

func sourceFromRequest(req submitRequest) (domain.Source, error) {
	switch {
	case req.URL != "" && req.FilePath != "":
		return domain.Source{}, errors.New("provide either url or filePath, not both")
	case req.URL != "":
		return domain.Source{Kind: domain.SourceURL, Ref: req.URL}, nil
	case req.FilePath != "":
		return domain.Source{Kind: domain.SourceUploadedFile, Ref: req.FilePath}, nil
	default:
		return domain.Source{}, errors.New("url or filePath is required")
	}
}

// handleIncomplete lists unfinished jobs, oldest first.
func (s *Server) handleIncomplete(w http.ResponseWriter, r *http.Request) {
	ids, err := s.orchestrator.ListIncomplete(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list incomplete failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(ids), "jobIds": ids})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, progress, err := s.orchestrator.Status(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "progress": progress})
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.orchestrator.Details(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleResume restarts an interrupted job. A missing job is 404; every
// other outcome is 200 with the result string.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	outcome, status, err := s.orchestrator.Resume(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("job", id).Msg("resume failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if outcome == jobs.ResumeNotFound {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	body := map[string]any{"result": outcome}
	if status != "" {
		body["status"] = status
	}
	writeJSON(w, http.StatusOK, body)
}

// handleEvents returns events newer than the since sequence number, for
// clients that poll instead of holding a websocket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be a non-negative integer"})
			return
		}
		since = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.events.Since(since)})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.diagnose())
}

func (s *Server) writeLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	s.logger.Error().Err(err).Str("job", id).Msg("job lookup failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
