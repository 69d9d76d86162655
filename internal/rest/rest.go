package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lessq/lessq/internal/job"
	"github.com/lessq/lessq/internal/queue"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const defaultPageSize = 20

// Server provides the operator REST API over one queue
type Server struct {
	queue  queue.Queue[json.RawMessage]
	router *chi.Mux
}

// NewServer creates a new REST server
func NewServer(q queue.Queue[json.RawMessage]) *Server {
	s := &Server{
		queue:  q,
		router: chi.NewRouter(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(corsMiddleware)

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.publish)
		r.Delete("/jobs/{id}", s.deleteJob)
		r.Get("/stats", s.stats)

		r.Route("/buried", func(r chi.Router) {
			r.Get("/", s.listBuried)
			r.Post("/{id}/reanimate", s.reanimate)
		})
	})

	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/healthz", s.health)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

type PublishRequest struct {
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload"`
	Priority uint8           `json:"priority,omitempty"`
	DelayMs  int64           `json:"delay_ms,omitempty"`
	Until    *time.Time      `json:"until,omitempty"`
}

type ReanimateRequest struct {
	Until *time.Time `json:"until,omitempty"`
}

type StatsResponse struct {
	Processable int `json:"processable"`
	Processing  int `json:"processing"`
	Buried      int `json:"buried"`
}

type JobResponse struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload"`
	Attempt  uint32          `json:"attempt"`
	Priority uint8           `json:"priority"`
}

type BuriedResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Size  int           `json:"size"`
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage("null")
	}

	opts := []queue.PublishOption{queue.WithPriority(job.Priority(req.Priority))}
	switch {
	case req.Until != nil:
		opts = append(opts, queue.WithUntil(*req.Until))
	case req.DelayMs > 0:
		opts = append(opts, queue.WithUntil(time.Now().Add(time.Duration(req.DelayMs)*time.Millisecond)))
	}

	if err := s.queue.Publish(r.Context(), req.Name, req.Payload, opts...); err != nil {
		s.fail(w, err, "failed to publish job")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "published"})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := queue.ParseRowID(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.queue.Delete(r.Context(), id); err != nil {
		s.fail(w, err, "failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var resp StatsResponse
	var err error
	if resp.Processable, err = s.queue.CountProcessable(ctx); err != nil {
		s.fail(w, err, "failed to count processable jobs")
		return
	}
	if resp.Processing, err = s.queue.CountProcessing(ctx); err != nil {
		s.fail(w, err, "failed to count processing jobs")
		return
	}
	if resp.Buried, err = s.queue.CountBuried(ctx); err != nil {
		s.fail(w, err, "failed to count buried jobs")
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) listBuried(w http.ResponseWriter, r *http.Request) {
	page := queue.Page{Number: 1, Size: defaultPageSize}
	if v := r.URL.Query().Get("page"); v != "" {
		page.Number, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("size"); v != "" {
		page.Size, _ = strconv.Atoi(v)
	}

	buried, err := s.queue.GetBuried(r.Context(), page)
	if err != nil {
		s.fail(w, err, "failed to list buried jobs")
		return
	}

	jobs := make([]JobResponse, len(buried.Jobs))
	for i, j := range buried.Jobs {
		id, _ := j.ID.(queue.RowID)
		jobs[i] = JobResponse{
			ID:       int64(id),
			Name:     string(j.Name),
			Payload:  j.Data,
			Attempt:  j.Attempt,
			Priority: uint8(j.Priority),
		}
	}

	respondJSON(w, http.StatusOK, BuriedResponse{
		Jobs:  jobs,
		Total: buried.Total,
		Page:  page.Number,
		Size:  page.Size,
	})
}

func (s *Server) reanimate(w http.ResponseWriter, r *http.Request) {
	id, err := queue.ParseRowID(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req ReanimateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := s.queue.Reanimate(r.Context(), id, req.Until); err != nil {
		s.fail(w, err, "failed to reanimate job")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// fail maps validation errors to 400 and logs everything else
func (s *Server) fail(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, job.ErrInvalidName),
		errors.Is(err, job.ErrInvalidPriority),
		errors.Is(err, queue.ErrInvalidPage),
		errors.Is(err, queue.ErrForeignID):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg(msg)
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
