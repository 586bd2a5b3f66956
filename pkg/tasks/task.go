// Package tasks defines the core data structures shared by the productdb job server,
// the workers and the status endpoints.
// Tasks are units of work that can be enqueued, processed by workers, and retried on failure.
// Results and Metadata are the per-task records the status endpoints read back.
package tasks

import (
	"time"
)

// Task represents a unit of work to be processed by the distributed task queue.
// Each task contains metadata for tracking, routing, and retry logic.
//
// The Type field is used to route tasks to appropriate handlers, while the Payload
// contains the actual job-specific data. The RetryCount is automatically incremented
// by the queue system when a task fails and needs to be retried.
type Task struct {
	// ID is the task handle clients poll with (a UUID generated at submission).
	ID string `json:"id"`

	// Type routes the task to a worker handler (e.g., "productdb.import_price_list").
	Type string `json:"type"`

	// Payload contains the job-specific data as a generic interface.
	// Workers are responsible for type assertion based on the Type field.
	Payload interface{} `json:"payload"`

	// CreatedAt is the timestamp when the task was first enqueued.
	CreatedAt time.Time `json:"created_at"`

	// RetryCount tracks how many times this task has been retried after failures.
	RetryCount int `json:"retry_count"`

	// Priority determines the processing order of the task.
	// 0 = Low, 1 = Default, 2 = High
	Priority int `json:"priority"`
}

const (
	PriorityLow     = 0
	PriorityDefault = 1
	PriorityHigh    = 2
)

// Metadata holds the presentation hints for the progress page of a task.
// It is written once when the task is submitted. Empty fields count as absent.
type Metadata struct {
	Title        string `json:"title,omitempty"`
	RedirectTo   string `json:"redirect_to,omitempty"`
	AutoRedirect bool   `json:"auto_redirect,omitempty"`
}
