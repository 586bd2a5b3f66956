package tasks

import (
	"errors"
	"time"
)

// State is the raw state a worker records for a task in the result store.
type State string

const (
	StatePending    State = "PENDING"    // unknown to the store, assumed queued
	StateReceived   State = "RECEIVED"   // picked up, not started
	StateStarted    State = "STARTED"    // handler running
	StateProcessing State = "PROCESSING" // handler running and reporting progress
	StateSuccess    State = "SUCCESS"
	StateFailure    State = "FAILURE"
	StateRevoked    State = "REVOKED"
	StateRetry      State = "RETRY"
)

// Result is the current record of a task in the result store.
//
// Info is a mapping (status_message, error_message, data) while the task is
// processing or after it succeeded. For a failed task it holds the error text.
type Result struct {
	TaskID    string    `json:"task_id"`
	State     State     `json:"state"`
	Info      any       `json:"info,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PendingResult is what the stores return for a task id they have never seen.
func PendingResult(taskID string) *Result {
	return &Result{TaskID: taskID, State: StatePending}
}

// ErrStoreUnavailable marks errors caused by a result or metadata store that
// cannot be reached. Store implementations wrap connectivity failures with it.
var ErrStoreUnavailable = errors.New("result store unavailable")
