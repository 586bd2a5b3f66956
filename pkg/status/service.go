package status

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/guido-cesarano/productdb/pkg/logger"
	"github.com/guido-cesarano/productdb/pkg/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrBadRequest is returned by Poll for callers that are neither asynchronous
// same-origin requests nor running in debug mode.
var ErrBadRequest = errors.New("bad request")

// DefaultTitle is the progress page title when the submitter gave none.
const DefaultTitle = "Please wait..."

// DefaultHomePath is where the progress page sends users when the submitter
// gave no redirect target.
const DefaultHomePath = "/productdb/"

var pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "productdb_task_polls_total",
	Help: "Task status polls answered, by reported state",
}, []string{"state"})

// ResultStore reads the current record of a task.
type ResultStore interface {
	GetResult(ctx context.Context, taskID string) (*tasks.Result, error)
}

// MetadataStore reads the presentation hints written when a task was submitted.
// A nil Metadata with a nil error means none were written.
type MetadataStore interface {
	GetMetadata(ctx context.Context, taskID string) (*tasks.Metadata, error)
}

// ProgressPage seeds the progress page of one task.
type ProgressPage struct {
	TaskID       string `json:"task_id"`
	Title        string `json:"title"`
	RedirectTo   string `json:"redirect_to"`
	AutoRedirect bool   `json:"auto_redirect"`
}

// Service answers status polls and progress page bootstraps. It only reads
// from its stores and is safe for concurrent use.
type Service struct {
	results  ResultStore
	metadata MetadataStore
	log      zerolog.Logger
	homePath string
	aliases  []string
}

// Option customises a Service.
type Option func(*Service)

// WithLogger replaces the global logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithHomePath sets the fallback redirect target.
func WithHomePath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.homePath = path
		}
	}
}

// WithProcessingAliases replaces DefaultProcessingAliases.
func WithProcessingAliases(aliases ...string) Option {
	return func(s *Service) { s.aliases = aliases }
}

// NewService builds a Service over the given stores. metadata may be nil, in
// which case every task is bootstrapped with defaults.
func NewService(results ResultStore, metadata MetadataStore, opts ...Option) *Service {
	s := &Service{
		results:  results,
		metadata: metadata,
		log:      logger.Log,
		homePath: DefaultHomePath,
		aliases:  DefaultProcessingAliases,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Poll returns the current snapshot of a task without waiting for it to finish.
//
// ajax tells whether the caller established the request as an asynchronous
// same-origin call; debug lifts that requirement. When neither holds Poll
// returns ErrBadRequest. Every other fault is folded into a failed snapshot,
// so the error is nil whenever the gate passes.
func (s *Service) Poll(ctx context.Context, taskID string, ajax, debug bool) (Snapshot, error) {
	if !ajax && !debug {
		return Snapshot{}, ErrBadRequest
	}

	snap := s.snapshot(ctx, taskID)
	pollsTotal.WithLabelValues(string(snap.State)).Inc()
	s.log.Debug().Str("task_id", taskID).Interface("snapshot", snap).Msg("Task state computed")
	return snap, nil
}

func (s *Service) snapshot(ctx context.Context, taskID string) (snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Str("task_id", taskID).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Cannot get task update")
			snap = Failed(UnknownErrorPrefix + fmt.Sprint(r))
		}
	}()

	result, err := s.results.GetResult(ctx, taskID)
	if err != nil {
		if errors.Is(err, tasks.ErrStoreUnavailable) {
			s.log.Error().Err(err).Str("task_id", taskID).Msg("Cannot get task update, result store unavailable")
			return Failed(StoreUnavailableMessage)
		}
		s.log.Error().Err(err).Str("task_id", taskID).Msg("Cannot get task update")
		return Failed(UnknownErrorPrefix + err.Error())
	}
	if result == nil {
		result = tasks.PendingResult(taskID)
	}

	snap, err = BuildSnapshot(result.State, result.Info, s.aliases)
	if err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Str("raw_state", string(result.State)).Msg("Cannot get task update")
		return Failed(UnknownErrorPrefix + err.Error())
	}
	return snap
}

// Bootstrap resolves the progress page hints of a task once. Missing hints are
// replaced by defaults; a missing redirect target is logged as a warning since
// the submitter should always write one.
func (s *Service) Bootstrap(ctx context.Context, taskID string) ProgressPage {
	page := ProgressPage{TaskID: taskID, Title: DefaultTitle}

	var meta *tasks.Metadata
	if s.metadata != nil {
		var err error
		meta, err = s.metadata.GetMetadata(ctx, taskID)
		if err != nil {
			s.log.Error().Err(err).Str("task_id", taskID).Msg("Cannot read task meta data")
			meta = nil
		}
	}
	if meta == nil {
		meta = &tasks.Metadata{}
	}

	if meta.Title != "" {
		page.Title = meta.Title
	}

	// auto_redirect only counts together with an explicit target
	if meta.RedirectTo != "" {
		page.RedirectTo = meta.RedirectTo
		page.AutoRedirect = meta.AutoRedirect
	} else {
		s.log.Warn().Str("task_id", taskID).Msg("Cannot find redirect link to task meta data, use homepage")
		page.RedirectTo = s.homePath
	}

	return page
}
