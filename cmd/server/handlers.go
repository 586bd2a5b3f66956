package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/guido-cesarano/productdb/pkg/logger"
	"github.com/guido-cesarano/productdb/pkg/queue"
	"github.com/guido-cesarano/productdb/pkg/status"
	"github.com/guido-cesarano/productdb/pkg/tasks"
)

type enqueueRequest struct {
	Type     string      `json:"type" validate:"required"`
	Payload  interface{} `json:"payload"`
	Priority *int        `json:"priority" validate:"omitempty,gte=0,lte=2"`

	// progress page hints
	Title        string `json:"title" validate:"max=255"`
	RedirectTo   string `json:"redirect_to" validate:"omitempty,localpath"`
	AutoRedirect bool   `json:"auto_redirect"`
}

type enqueueResponse struct {
	TaskID      string `json:"task_id"`
	ProgressURL string `json:"progress_url"`
	StatusURL   string `json:"status_url"`
}

type scheduleRequest struct {
	Spec     string      `json:"spec" validate:"required"`
	Type     string      `json:"type" validate:"required"`
	Payload  interface{} `json:"payload"`
	Priority *int        `json:"priority" validate:"omitempty,gte=0,lte=2"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to write response")
	}
}

// decodeAndValidate fills v from the JSON body. It writes the 400 itself and
// returns false on failure.
func (app *application) decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	if err := app.validate.Struct(v); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func priorityOrDefault(p *int) int {
	if p == nil {
		return tasks.PriorityDefault
	}
	return *p
}

// handleEnqueue submits a job. Metadata is written before the job is queued so
// the progress page never races a fast worker.
func (app *application) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !app.decodeAndValidate(w, r, &req) {
		return
	}

	task := tasks.Task{
		ID:        uuid.New().String(),
		Type:      req.Type,
		Payload:   req.Payload,
		CreatedAt: time.Now(),
		Priority:  priorityOrDefault(req.Priority),
	}

	meta := tasks.Metadata{Title: req.Title, RedirectTo: req.RedirectTo, AutoRedirect: req.AutoRedirect}
	if err := app.store.SetMetadata(r.Context(), task.ID, meta); err != nil {
		logger.Log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to store task meta data")
		http.Error(w, "Cannot store task meta data", http.StatusServiceUnavailable)
		return
	}

	if err := app.client.Enqueue(r.Context(), task); err != nil {
		logger.Log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to enqueue task")
		http.Error(w, "Cannot enqueue task", http.StatusServiceUnavailable)
		return
	}

	logger.Log.Info().Str("task_id", task.ID).Str("type", task.Type).Int("priority", task.Priority).Msg("Task enqueued")
	writeJSON(w, http.StatusAccepted, enqueueResponse{
		TaskID:      task.ID,
		ProgressURL: taskPagePrefix + task.ID,
		StatusURL:   taskStatusPrefix + task.ID,
	})
}

// handleTaskStatus answers the progress page's polls. Only XMLHttpRequest
// calls are served unless the server runs in debug mode.
func (app *application) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	ajax := r.Header.Get("X-Requested-With") == "XMLHttpRequest"

	snap, err := app.status.Poll(r.Context(), taskID, ajax, app.debug)
	if errors.Is(err, status.ErrBadRequest) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Bad Request"))
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

type progressView struct {
	status.ProgressPage
	StatusURL string
}

// handleTaskProgress renders the page that polls a task until it finishes.
func (app *application) handleTaskProgress(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	page := app.status.Bootstrap(r.Context(), taskID)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	view := progressView{ProgressPage: page, StatusURL: taskStatusPrefix + taskID}
	if err := pageTemplates.ExecuteTemplate(w, "task_progress.html", view); err != nil {
		logger.Log.Error().Err(err).Str("task_id", taskID).Msg("Failed to render progress page")
	}
}

// handleSchedule registers a periodic job with the cron scheduler.
func (app *application) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !app.decodeAndValidate(w, r, &req) {
		return
	}

	template := tasks.Task{
		Type:     req.Type,
		Payload:  req.Payload,
		Priority: priorityOrDefault(req.Priority),
	}

	entryID, err := app.client.Schedule(r.Context(), req.Spec, template)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid cron spec: %v", err), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"entry_id": entryID})
}

// handleStats returns the current queue depths.
func (app *application) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.client.GetQueueDepths(r.Context()))
}

// handleTasks lists up to 50 tasks of one queue.
func (app *application) handleTasks(w http.ResponseWriter, r *http.Request) {
	queueName := r.URL.Query().Get("queue")
	if queueName == "" {
		http.Error(w, "Missing queue parameter", http.StatusBadRequest)
		return
	}
	if !queue.ValidQueue(queueName) {
		http.Error(w, "Unknown queue", http.StatusBadRequest)
		return
	}

	list, err := app.client.InspectQueue(r.Context(), queueName, 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (app *application) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := app.client.Ping(r.Context()); err != nil {
		http.Error(w, "Redis unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
