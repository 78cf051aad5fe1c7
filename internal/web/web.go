// Package web is the public frontend: it renders model submission forms,
// forwards validated submissions to the queue daemon and handles the
// confirmation links embedded in email.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/numerus/internal/client"
	"github.com/ternarybob/numerus/internal/common"
	"github.com/ternarybob/numerus/internal/model"
	"github.com/ternarybob/numerus/internal/params"
	"github.com/ternarybob/numerus/internal/task"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

var validate = validator.New()

// Server is the web frontend HTTP server.
type Server struct {
	config   *common.Config
	client   *client.Client
	registry *model.Registry
	logger   arbor.ILogger
	tmpl     *template.Template
	server   *http.Server
}

func New(config *common.Config, qc *client.Client, registry *model.Registry, logger arbor.ILogger) (*Server, error) {
	tmpl, err := template.ParseFS(embeddedTemplates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse page templates: %w", err)
	}

	s := &Server{
		config:   config,
		client:   qc,
		registry: registry,
		logger:   logger,
		tmpl:     tmpl,
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Web.Host, config.Web.Port),
		Handler:      s.withMiddleware(s.setupRoutes()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.indexHandler)
	mux.HandleFunc("GET /models/{name}", s.modelHandler)
	mux.HandleFunc("POST /models/{name}/submit", s.submitHandler)
	mux.HandleFunc("GET /confirm_submission/{code}", s.confirmHandler)
	return mux
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Msg("Web frontend starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down web frontend...")
	return s.server.Shutdown(ctx)
}

// pageData carries the fields the shared layout needs plus everything a
// specific page renders.
type pageData struct {
	PageTitle     string
	NoWorkers     bool
	Models        []*model.Definition
	Model         *model.Definition
	Description   template.HTML
	ParameterRows []template.HTML
	Error         string
	Message       string
	EmailAddress  string
	VisibleID     string
	ExpiryMinutes int
}

// noWorkers asks the queue whether a worker checked in recently. A
// transport failure just suppresses the banner.
func (s *Server) noWorkers() bool {
	ok, err := s.client.HasWorkers()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Worker availability check failed")
		return false
	}
	return !ok
}

func (s *Server) render(w http.ResponseWriter, status int, page string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, page, data); err != nil {
		s.logger.Error().Err(err).Str("page", page).Msg("Template rendering failed")
	}
}

func (s *Server) renderError(w http.ResponseWriter) {
	s.render(w, http.StatusInternalServerError, "error.html", pageData{PageTitle: "Error"})
}

func (s *Server) renderNotFound(w http.ResponseWriter, message string) {
	s.render(w, http.StatusNotFound, "not_found.html", pageData{PageTitle: "Not found", Message: message})
}

// indexHandler lists the latest version of every model.
func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index.html", pageData{
		PageTitle: "Numerus",
		NoWorkers: s.noWorkers(),
		Models:    s.registry.LatestAll(),
	})
}

// modelHandler renders the submission form with default values.
func (s *Server) modelHandler(w http.ResponseWriter, r *http.Request) {
	def, ok := s.registry.Latest(r.PathValue("name"))
	if !ok {
		s.renderNotFound(w, "No such model.")
		return
	}
	s.renderForm(w, http.StatusOK, def, nil, "", "")
}

// renderForm shows the submission form, re-populated from a failed
// submission when form is non-nil.
func (s *Server) renderForm(w http.ResponseWriter, status int, def *model.Definition, form map[string]string, email, errText string) {
	description, err := def.DescriptionHTML()
	if err != nil {
		s.logger.Error().Err(err).Str("model", def.ShortName).Msg("Description rendering failed")
		s.renderError(w)
		return
	}

	rows := make([]template.HTML, 0, len(def.Parameters))
	for i := range def.Parameters {
		spec := &def.Parameters[i]
		v, verr := s.formValue(spec, form)
		if verr != nil {
			// Unfillable parameter, render the bare default-less input.
			v = params.Value{Spec: spec}
		}
		rows = append(rows, template.HTML(v.AsHTML()))
	}

	s.render(w, status, "model.html", pageData{
		PageTitle:     def.Title(),
		NoWorkers:     s.noWorkers(),
		Model:         def,
		Description:   description,
		ParameterRows: rows,
		Error:         errText,
		EmailAddress:  email,
	})
}

// formValue resolves the displayed value of one parameter: the
// submitted value when re-rendering after an error, else the default.
func (s *Server) formValue(spec *params.Spec, form map[string]string) (params.Value, error) {
	if form != nil {
		if raw, ok := form[spec.Name]; ok {
			if v, err := spec.WithValue(raw); err == nil {
				return v, nil
			}
		}
	}
	return spec.DefaultValue()
}

// submitHandler validates the submission and forwards it to the queue.
func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := r.ParseForm(); err != nil {
		s.renderNotFound(w, "Malformed submission.")
		return
	}

	// The form binds to the exact version it was rendered for; a model
	// updated mid-edit must not reinterpret the submitted values.
	def, ok := s.registry.Get(name, r.PostFormValue("modelVersion"))
	if !ok {
		if def, ok = s.registry.Latest(name); !ok {
			s.renderNotFound(w, "No such model.")
			return
		}
	}

	form := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		form[key] = r.PostFormValue(key)
	}

	email := r.PostFormValue("emailAddress")
	if err := validate.Var(email, "required,email"); err != nil {
		s.renderForm(w, http.StatusBadRequest, def, form, email, "Please enter a valid email address.")
		return
	}

	values, err := bindParameters(def, r.PostForm.Has, r.PostFormValue)
	if err != nil {
		s.renderForm(w, http.StatusBadRequest, def, form, email, err.Error())
		return
	}

	rec := task.New(def, email, 0, values).Record()
	created, _, err := s.client.CreateTask(rec)
	if err != nil {
		s.logger.Error().Err(err).Str("model", def.ShortName).Msg("Queue rejected submission")
		s.renderError(w)
		return
	}

	s.logger.Info().
		Str("model", def.ShortName).
		Str("run", created.VisibleID).
		Msg("Submission accepted, confirmation pending")

	s.render(w, http.StatusOK, "submitted.html", pageData{
		PageTitle:     "Confirmation required",
		Model:         def,
		EmailAddress:  email,
		VisibleID:     created.VisibleID,
		ExpiryMinutes: s.config.Queue.ConfirmTimeout,
	})
}

// bindParameters validates every declared parameter against the
// submitted form. Absent keys go through NonExistValue, so unchecked
// checkboxes come back false and anything else missing is an error.
func bindParameters(def *model.Definition, has func(string) bool, get func(string) string) ([]params.Value, error) {
	values := make([]params.Value, 0, len(def.Parameters))
	for i := range def.Parameters {
		spec := &def.Parameters[i]

		var (
			v   params.Value
			err error
		)
		if has(spec.Name) {
			v, err = spec.WithValue(get(spec.Name))
		} else {
			v, err = spec.NonExistValue()
		}
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// confirmHandler redeems the confirmation code from the emailed link.
func (s *Server) confirmHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.client.Confirm(r.PathValue("code"))
	switch {
	case errors.Is(err, client.ErrUnknownCode):
		s.renderNotFound(w, "This confirmation link has expired or was never issued.")
	case err != nil:
		s.logger.Error().Err(err).Msg("Confirmation forwarding failed")
		s.renderError(w)
	case result == client.AlreadyConfirmed:
		s.render(w, http.StatusOK, "already_confirmed.html", pageData{PageTitle: "Already confirmed"})
	default:
		s.render(w, http.StatusOK, "confirmed.html", pageData{PageTitle: "Run confirmed"})
	}
}
