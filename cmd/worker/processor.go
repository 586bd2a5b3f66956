package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guido-cesarano/productdb/pkg/logger"
	"github.com/guido-cesarano/productdb/pkg/queue"
	"github.com/guido-cesarano/productdb/pkg/tasks"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// rateLimitDelay is how long a task over its type's rate limit is parked.
const rateLimitDelay = 5 * time.Second

// finishTimeout bounds the writes that settle a task once its handler returned.
const finishTimeout = 5 * time.Second

// stateWriter records task states for pollers.
type stateWriter interface {
	SetState(ctx context.Context, taskID string, state tasks.State, info any) error
}

// reporter publishes the progress of one task. Write failures are logged and
// never fail the task.
type reporter struct {
	results stateWriter
	taskID  string
	log     zerolog.Logger
}

func (r *reporter) set(ctx context.Context, state tasks.State, info any) {
	if err := r.results.SetState(ctx, r.taskID, state, info); err != nil {
		r.log.Error().Err(err).Str("task_id", r.taskID).Str("state", string(state)).Msg("Failed to record task state")
	}
}

func (r *reporter) started(ctx context.Context) { r.set(ctx, tasks.StateStarted, nil) }

func (r *reporter) progress(ctx context.Context, msg string) {
	r.set(ctx, tasks.StateProcessing, map[string]interface{}{"status_message": msg})
}

func (r *reporter) succeeded(ctx context.Context, res *jobResult) {
	if res == nil {
		res = &jobResult{}
	}
	r.set(ctx, tasks.StateSuccess, res)
}

func (r *reporter) failed(ctx context.Context, err error) { r.set(ctx, tasks.StateFailure, err.Error()) }

type workerOptions struct {
	MaxRetries int
	RateLimit  int
	Burst      int
}

// worker drains the priority queues and runs each task through its handler.
type worker struct {
	client   *queue.Client
	results  stateWriter
	handlers map[string]handlerFunc
	opts     workerOptions
	log      zerolog.Logger
}

func newWorker(client *queue.Client, results stateWriter, opts workerOptions) *worker {
	return &worker{
		client:   client,
		results:  results,
		handlers: defaultHandlers(),
		opts:     opts,
		log:      logger.Log,
	}
}

// run processes tasks until the context is cancelled. Delayed tasks are
// promoted by a background scheduler.
func (w *worker) run(ctx context.Context) {
	go w.client.StartScheduler(ctx)

	for {
		if ctx.Err() != nil {
			return
		}
		err := w.processNext(ctx)
		switch {
		case err == nil, errors.Is(err, redis.Nil):
		case ctx.Err() != nil:
			return
		default:
			w.log.Error().Err(err).Msg("Failed to process task")
			sleep(ctx, time.Second)
		}
	}
}

// processNext dequeues and handles one task. It returns redis.Nil when every
// queue is empty.
//
// Task Processing Flow:
//  1. Dequeue atomically into the processing queue
//  2. Park the task without consuming a retry if its type is over the rate limit,
//     otherwise record STARTED
//  3. Run the handler, publishing each progress step as PROCESSING
//  4. On success: Complete and record SUCCESS with the job result
//  5. On failure: Retry with backoff while retries remain, recording a PROCESSING
//     retry notice, otherwise move to the dead letter queue and record FAILURE
//  6. A handler cut short by shutdown is requeued without consuming a retry
func (w *worker) processNext(ctx context.Context) error {
	task, raw, err := w.client.Dequeue(ctx)
	if err != nil {
		return err
	}

	log := w.log.With().Str("task_id", task.ID).Str("type", task.Type).Int("retry_count", task.RetryCount).Logger()
	rep := &reporter{results: w.results, taskID: task.ID, log: log}

	allowed, err := w.client.Allow(ctx, fmt.Sprintf("ratelimit:%s", task.Type), w.opts.RateLimit, w.opts.Burst)
	if err != nil {
		// fail open
		log.Error().Err(err).Msg("Rate limit check failed")
	} else if !allowed {
		log.Warn().Msg("Rate limit exceeded, deferring")
		tasksProcessed.WithLabelValues("deferred", task.Type).Inc()
		return w.client.Defer(ctx, *task, raw, rateLimitDelay)
	}

	rep.started(ctx)

	start := time.Now()
	queueLatency.WithLabelValues(task.Type).Observe(start.Sub(task.CreatedAt).Seconds())

	res, err := w.handle(ctx, task, rep)
	taskDuration.WithLabelValues(task.Type).Observe(time.Since(start).Seconds())

	// settle the task even when shutdown cancelled ctx mid-handler
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err == nil {
		if err := w.client.Complete(fctx, raw); err != nil {
			log.Error().Err(err).Msg("Failed to complete task")
		}
		rep.succeeded(fctx, res)
		tasksProcessed.WithLabelValues("success", task.Type).Inc()
		log.Info().Msg("Task succeeded")
		return nil
	}

	if ctx.Err() != nil && !isPermanent(err) {
		log.Warn().Err(err).Msg("Task interrupted by shutdown, requeueing")
		rep.progress(fctx, "Worker restarting, task requeued...")
		tasksProcessed.WithLabelValues("requeued", task.Type).Inc()
		return w.client.Defer(fctx, *task, raw, 0)
	}

	log.Error().Err(err).Msg("Task failed")
	if !isPermanent(err) && task.RetryCount < w.opts.MaxRetries {
		rep.progress(fctx, fmt.Sprintf("Attempt %d failed, retrying...", task.RetryCount+1))
		tasksProcessed.WithLabelValues("retry", task.Type).Inc()
		return w.client.Retry(fctx, *task, raw)
	}

	rep.failed(fctx, err)
	tasksProcessed.WithLabelValues("failed", task.Type).Inc()
	return w.client.Fail(fctx, *task, raw)
}

// handle dispatches to the task's handler. A panicking handler counts as a
// permanent failure.
func (w *worker) handle(ctx context.Context, task *tasks.Task, rep *reporter) (res *jobResult, err error) {
	h, ok := w.handlers[task.Type]
	if !ok {
		return nil, unknownType(task.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			err = permanent(fmt.Errorf("task panicked: %v", r))
		}
	}()

	return h(ctx, task, func(msg string) { rep.progress(ctx, msg) })
}
