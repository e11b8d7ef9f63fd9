// Package web serves the submitter-facing site: model listing, the
// parameter forms, and the confirmation landing page. It holds no task
// state of its own; everything authoritative lives in the queue server.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/simq/internal/mailer"
	"github.com/me/simq/internal/registry"
	"github.com/me/simq/pkg/task"
)

// Server is the web front-end.
type Server struct {
	router   chi.Router
	registry *registry.Registry
	client   *QueueClient
	mailer   mailer.Mailer
	baseURL  string
	logger   *slog.Logger
}

// NewServer creates a front-end over the given registry and queue
// client, with all routes registered. baseURL is the externally
// reachable address used in confirmation links.
func NewServer(reg *registry.Registry, client *QueueClient, m mailer.Mailer, baseURL string, logger *slog.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		registry: reg,
		client:   client,
		mailer:   m,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger.With("component", "web"),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/", s.handleIndex)
	r.Get("/models/{name}", s.handleModelForm)
	r.Post("/models/{name}", s.handleModelSubmit)
	r.Get("/confirm_submission/{code}", s.handleConfirm)
}

type indexData struct {
	Title  string
	Models []*task.ModelSpec
}

// handleIndex lists the latest version of every model.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{Title: "Scientific models"}
	for _, name := range s.registry.Names() {
		if spec, ok := s.registry.GetLatest(name); ok {
			data.Models = append(data.Models, spec)
		}
	}
	s.render(w, http.StatusOK, "index", data)
}

type modelData struct {
	Title      string
	Spec       *task.ModelSpec
	HasWorkers bool
	Email      string
	Error      string
}

// handleModelForm renders the parameter form for the latest version of
// the named model.
func (s *Server) handleModelForm(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.registry.GetLatest(chi.URLParam(r, "name"))
	if !ok {
		s.renderError(w, http.StatusNotFound, "There is no model by that name.")
		return
	}
	s.render(w, http.StatusOK, "model", modelData{
		Title:      spec.Title(),
		Spec:       spec,
		HasWorkers: s.client.HasWorkers(r.Context()),
	})
}

// handleModelSubmit validates the form, submits the task to the queue,
// and tells the user to watch their inbox. Validation problems
// re-render the form with the message instead of failing the request.
func (s *Server) handleModelSubmit(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.registry.GetLatest(chi.URLParam(r, "name"))
	if !ok {
		s.renderError(w, http.StatusNotFound, "There is no model by that name.")
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	params, err := parseParams(spec, r)
	if err == nil {
		t := task.New(spec.Name, spec.Version, email, params)
		err = t.Validate(spec)
		if err == nil {
			var code string
			code, err = s.client.CreateTask(r.Context(), t)
			if err == nil {
				if mailErr := s.sendConfirmation(r.Context(), spec, email, code); mailErr != nil {
					s.logger.Error("confirmation email failed", "task_id", t.ID, "error", mailErr)
					s.renderError(w, http.StatusInternalServerError,
						"Your request was received but the confirmation email could not be sent. Please try again.")
					return
				}
				s.logger.Info("task submitted", "model", spec.Name, "email", email)
				s.render(w, http.StatusOK, "submitted", modelData{
					Title: spec.Title(), Spec: spec, Email: email,
				})
				return
			}
		}
	}

	s.render(w, http.StatusBadRequest, "model", modelData{
		Title:      spec.Title(),
		Spec:       spec,
		HasWorkers: s.client.HasWorkers(r.Context()),
		Email:      email,
		Error:      err.Error(),
	})
}

// parseParams reads one form field per parameter. Range parameters
// arrive as a _start/_end input pair.
func parseParams(spec *task.ModelSpec, r *http.Request) (map[string]task.Value, error) {
	params := make(map[string]task.Value, len(spec.Parameters))
	for i := range spec.Parameters {
		p := &spec.Parameters[i]
		raw := r.FormValue(p.Name)
		if p.Kind == task.KindRange {
			raw = r.FormValue(p.Name+"_start") + ":" + r.FormValue(p.Name+"_end")
		}
		v, err := p.ParseForm(raw)
		if err != nil {
			return nil, err
		}
		params[p.Name] = v
	}
	return params, nil
}

// sendConfirmation emails the single-use confirmation link.
func (s *Server) sendConfirmation(ctx context.Context, spec *task.ModelSpec, email, code string) error {
	link := s.baseURL + "/confirm_submission/" + code
	body := fmt.Sprintf(
		"A %s run was requested for this email address.\n\n"+
			"To confirm the request and queue it for execution, follow this link:\n\n"+
			"    %s\n\n"+
			"If you did not request this, simply ignore this message; unconfirmed\n"+
			"requests are discarded automatically.\n", spec.Title(), link)

	return s.mailer.Send(ctx, &mailer.Message{
		To:      email,
		Subject: fmt.Sprintf("Confirm your %s request", spec.Title()),
		Body:    body,
	})
}

type confirmData struct {
	Title  string
	Reason string
}

// handleConfirm redeems the emailed confirmation link.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	result, err := s.client.Confirm(r.Context(), code)
	if err != nil {
		s.logger.Error("confirmation failed", "error", err)
		s.renderError(w, http.StatusBadGateway, "The queue server could not be reached. Please try the link again shortly.")
		return
	}

	switch result {
	case ConfirmOkay:
		s.render(w, http.StatusOK, "confirmed", confirmData{Title: "Request confirmed"})
	case ConfirmExpired:
		s.render(w, http.StatusOK, "confirm_failed", confirmData{
			Title:  "Confirmation expired",
			Reason: "This confirmation link has expired. Please submit your request again.",
		})
	default:
		s.render(w, http.StatusNotFound, "confirm_failed", confirmData{
			Title:  "Unknown confirmation",
			Reason: "This confirmation link is not valid. It may have been used already.",
		})
	}
}

func (s *Server) render(w http.ResponseWriter, status int, page string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := render(w, page, data); err != nil {
		s.logger.Error("template render failed", "page", page, "error", err)
	}
}

func (s *Server) renderError(w http.ResponseWriter, status int, reason string) {
	s.render(w, status, "error", confirmData{Title: "Error", Reason: reason})
}

// requestLogger logs requests at INFO level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start).String(),
			)
		})
	}
}
