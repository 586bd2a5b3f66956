// Package status turns the raw task records of the result store into the small,
// stable status vocabulary the progress page polls for, and resolves the
// presentation hints the page is first rendered with.
package status

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/guido-cesarano/productdb/pkg/tasks"
)

// State is the client-facing task state.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

// Messages returned to pollers.
const (
	PendingMessage          = "try to start task"
	StoreUnavailableMessage = "A server process (redis) is not running, please contact the administrator"
	UnknownErrorPrefix      = "Unknown error: "
)

// DefaultProcessingAliases are raw states, compared case-insensitively, that
// count as processing in addition to STARTED.
var DefaultProcessingAliases = []string{string(tasks.StateProcessing)}

// Snapshot is the JSON payload returned for one poll.
type Snapshot struct {
	State         State           `json:"state"`
	StatusMessage *string         `json:"status_message,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// Classify maps a raw state onto the client vocabulary. Pending is checked
// first, then processing, then success; everything else is a failure.
func Classify(raw tasks.State, processingAliases []string) State {
	if raw == tasks.StatePending {
		return StatePending
	}
	if raw == tasks.StateStarted {
		return StateProcessing
	}
	for _, alias := range processingAliases {
		if strings.EqualFold(string(raw), alias) {
			return StateProcessing
		}
	}
	if raw == tasks.StateSuccess {
		return StateSuccess
	}
	return StateFailed
}

// BuildSnapshot computes the snapshot for a raw state and its info payload.
func BuildSnapshot(raw tasks.State, info any, processingAliases []string) (Snapshot, error) {
	state := Classify(raw, processingAliases)
	snap := Snapshot{State: state}

	switch state {
	case StatePending:
		snap.StatusMessage = ptr(PendingMessage)

	case StateProcessing:
		fields, err := infoFields(info)
		if err != nil {
			return Snapshot{}, err
		}
		snap.StatusMessage = ptr(stringValue(fields["status_message"]))

	case StateSuccess:
		fields, err := infoFields(info)
		if err != nil {
			return Snapshot{}, err
		}
		snap.StatusMessage = ptr(stringValue(fields["status_message"]))
		if msg, ok := fields["error_message"]; ok {
			snap.ErrorMessage = ptr(stringValue(msg))
		}
		if data, ok := fields["data"]; ok {
			raw, err := json.Marshal(data)
			if err != nil {
				return Snapshot{}, fmt.Errorf("encode task data: %w", err)
			}
			snap.Data = raw
		}

	default:
		snap.ErrorMessage = ptr(infoText(info))
	}

	return snap, nil
}

// Failed builds a failed snapshot carrying message.
func Failed(message string) Snapshot {
	return Snapshot{State: StateFailed, ErrorMessage: ptr(message)}
}

// infoFields reads the info of a running or successful task, which must be a
// mapping. A missing info reads as an empty one.
func infoFields(info any) (map[string]any, error) {
	switch fields := info.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return fields, nil
	default:
		return nil, fmt.Errorf("task info is %T, not a mapping", info)
	}
}

// stringValue renders a missing value as "" and anything else in its natural
// text form.
func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// infoText is the string form of a failure's info, usually the captured error.
func infoText(info any) string {
	switch v := info.(type) {
	case nil:
		return ""
	case string:
		return v
	case error:
		return v.Error()
	default:
		if raw, err := json.Marshal(v); err == nil {
			return string(raw)
		}
		return fmt.Sprint(v)
	}
}

func ptr(s string) *string { return &s }
