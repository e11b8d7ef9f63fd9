package queue

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/simq/pkg/task"
)

// HistorySource serves the operator audit endpoint. May be nil.
type HistorySource interface {
	Recent(limit int) ([]HistoryEntry, error)
}

// HistoryEntry is one terminal task outcome as served to operators.
type HistoryEntry struct {
	TaskID       string    `json:"taskId"`
	ModelName    string    `json:"modelName"`
	ModelVersion string    `json:"modelVersion"`
	EmailAddress string    `json:"emailAddress"`
	State        string    `json:"state"`
	Detail       string    `json:"detail,omitempty"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// Server exposes the queue over HTTP. Submitter-facing endpoints are
// open; worker and admin endpoints require the shared secret as a
// query or form parameter.
type Server struct {
	router  chi.Router
	queue   *Queue
	history HistorySource
	secret  string
	logger  *slog.Logger
}

// NewServer creates a queue server with all routes registered.
func NewServer(q *Queue, history HistorySource, secret string, logger *slog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		queue:   q,
		history: history,
		secret:  secret,
		logger:  logger.With("component", "queue_server"),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(s.logger))

	// Submitter-facing endpoints, no secret.
	r.Post("/client_model_create", s.handleCreate)
	r.Get("/client_confirm/{code}", s.handleConfirm)
	r.Get("/client_queue_has_workers", s.handleHasWorkers)

	// Worker and admin endpoints behind the shared secret.
	r.Group(func(r chi.Router) {
		r.Use(s.requireSecret)
		r.Get("/worker_info", s.handleWorkerInfo)
		r.Post("/worker_work_task", s.handleWorkTask)
		r.Get("/worker_keep_alive_task/{taskID}", s.handleKeepAlive)
		r.Get("/worker_has_task/{taskID}", s.handleHasTask)
		r.Get("/worker_succeed_task/{taskID}", s.handleSucceed)
		r.Get("/worker_failed_task/{taskID}", s.handleFailed)
		r.Get("/admin_recent_tasks", s.handleRecentTasks)
	})

	r.Method(http.MethodGet, "/metrics", s.queue.Metrics().Handler())
}

// requireSecret rejects requests lacking the shared secret. The secret
// may arrive as a query parameter or a form field; FormValue covers
// both.
func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("secret") != s.secret {
			s.logger.Warn("rejected request with bad secret", "path", r.URL.Path)
			respondJSON(w, http.StatusForbidden, map[string]any{"response": "bad_secret"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleCreate accepts a serialized task, validates it, and stores it
// unconfirmed.
// POST /client_model_create, form field task_json.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	taskJSON := r.FormValue("task_json")
	if taskJSON == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": "task_json is required"})
		return
	}

	var t task.Task
	if err := json.Unmarshal([]byte(taskJSON), &t); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed task_json: " + err.Error()})
		return
	}

	code, err := s.queue.Submit(&t)
	if err != nil {
		var verr *task.ValidationError
		var merr *UnknownModelError
		switch {
		case errors.As(err, &verr), errors.As(err, &merr):
			respondJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		default:
			respondJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"response": map[string]any{"code": code, "task": &t},
	})
}

// handleConfirm redeems a confirmation code.
// GET /client_confirm/{code}
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	result := s.queue.Confirm(code)

	status := http.StatusOK
	if result == ConfirmNotFound {
		status = http.StatusNotFound
	}
	respondJSON(w, status, map[string]any{"response": string(result)})
}

// handleHasWorkers reports worker liveness for the front-end's
// pre-flight check.
// GET /client_queue_has_workers
func (s *Server) handleHasWorkers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"response": map[string]any{"has_workers": s.queue.HasWorkers()},
	})
}

// handleWorkerInfo is the health probe workers hit at boot.
// GET /worker_info
func (s *Server) handleWorkerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"response": "okay"})
}

// handleWorkTask hands out the first runnable task matching the
// worker's supported versions.
// POST /worker_work_task, form field model_versions_json.
func (s *Server) handleWorkTask(w http.ResponseWriter, r *http.Request) {
	var supported map[string][]string
	if err := json.Unmarshal([]byte(r.FormValue("model_versions_json")), &supported); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed model_versions_json"})
		return
	}

	t, status := s.queue.Poll(supported)
	if t == nil {
		respondJSON(w, http.StatusOK, map[string]any{"status": string(status)})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"task": t})
}

// handleKeepAlive refreshes an in-flight task's heartbeat.
// GET /worker_keep_alive_task/{taskID}
func (s *Server) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	respondYesNo(w, s.queue.Heartbeat(chi.URLParam(r, "taskID")))
}

// handleHasTask reports whether the task is still held.
// GET /worker_has_task/{taskID}
func (s *Server) handleHasTask(w http.ResponseWriter, r *http.Request) {
	respondYesNo(w, s.queue.HasTask(chi.URLParam(r, "taskID")))
}

// handleSucceed acknowledges success.
// GET /worker_succeed_task/{taskID}
func (s *Server) handleSucceed(w http.ResponseWriter, r *http.Request) {
	s.queue.Succeed(chi.URLParam(r, "taskID"))
	respondJSON(w, http.StatusOK, map[string]any{"response": "okay"})
}

// handleFailed acknowledges failure.
// GET /worker_failed_task/{taskID}
func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	s.queue.Fail(chi.URLParam(r, "taskID"))
	respondJSON(w, http.StatusOK, map[string]any{"response": "okay"})
}

// handleRecentTasks serves the terminal task audit log.
// GET /admin_recent_tasks?limit=N
func (s *Server) handleRecentTasks(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondJSON(w, http.StatusOK, map[string]any{"response": []HistoryEntry{}})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	entries, err := s.history.Recent(limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]any{"error": "history unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"response": entries})
}

func respondYesNo(w http.ResponseWriter, yes bool) {
	answer := "no"
	if yes {
		answer = "yes"
	}
	respondJSON(w, http.StatusOK, map[string]any{"response": answer})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// loggingMiddleware logs requests at INFO level (method, path, status, duration).
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", time.Since(start).String(),
			)
		})
	}
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
