package main

import (
	"embed"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/guido-cesarano/productdb/pkg/queue"
	"github.com/guido-cesarano/productdb/pkg/status"
	"github.com/guido-cesarano/productdb/pkg/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// application holds the dependencies of the HTTP handlers.
type application struct {
	client   *queue.Client
	store    store.TaskStore
	status   *status.Service
	validate *validator.Validate
	apiKey   string
	// debug lets non-ajax requests read task status
	debug bool
}

func newApplication(client *queue.Client, ts store.TaskStore, svc *status.Service, apiKey string, debug bool) *application {
	validate := validator.New()
	if err := validate.RegisterValidation("localpath", isLocalPath); err != nil {
		panic(err)
	}
	return &application{
		client:   client,
		store:    ts,
		status:   svc,
		validate: validate,
		apiKey:   apiKey,
		debug:    debug,
	}
}

// isLocalPath accepts absolute paths on this site only. Browsers follow
// //host and /\host off-site, so both are rejected.
func isLocalPath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}

// Paths of the task pages.
const (
	taskPagePrefix   = "/productdb/task/"
	taskStatusPrefix = "/productdb/task/watch/"
)

// setupRouter configures the HTTP handlers and returns the router.
//
// Admin endpoints go through CORS then the API key check. The task pages are
// opened by browsers and polled by the page itself, so they take no key.
func setupRouter(app *application) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(enableCORS)
		r.Use(authMiddleware(app.apiKey))

		r.Post("/enqueue", app.handleEnqueue)
		r.Post("/schedule", app.handleSchedule)
		r.Get("/stats", app.handleStats)
		r.Get("/tasks", app.handleTasks)
	})

	r.Get(taskStatusPrefix+"{taskID}", app.handleTaskStatus)
	r.Get(taskPagePrefix+"{taskID}", app.handleTaskProgress)

	r.Get("/health", app.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
