package status

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/guido-cesarano/productdb/pkg/tasks"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		raw  tasks.State
		want State
	}{
		{tasks.StatePending, StatePending},
		{tasks.StateStarted, StateProcessing},
		{tasks.StateProcessing, StateProcessing},
		{"processing", StateProcessing},
		{"Processing", StateProcessing},
		{tasks.StateSuccess, StateSuccess},
		{tasks.StateFailure, StateFailed},
		{tasks.StateRevoked, StateFailed},
		{tasks.StateRetry, StateFailed},
		{tasks.StateReceived, StateFailed},
		{"SOMETHING_ELSE", StateFailed},
		{"", StateFailed},
	}

	for _, tt := range tests {
		if got := Classify(tt.raw, DefaultProcessingAliases); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestClassifyAliases(t *testing.T) {
	if got := Classify("IMPORTING", []string{"importing"}); got != StateProcessing {
		t.Errorf("Expected custom alias to be processing, got %s", got)
	}
	if got := Classify("PROCESSING", nil); got != StateFailed {
		t.Errorf("Expected PROCESSING without aliases to be failed, got %s", got)
	}
	// pending wins even if someone aliases it
	if got := Classify(tasks.StatePending, []string{"pending"}); got != StatePending {
		t.Errorf("Expected pending, got %s", got)
	}
}

func TestNonTerminalStatesNeverSucceedOrFail(t *testing.T) {
	for _, raw := range []tasks.State{tasks.StatePending, tasks.StateStarted, "processing", "PROCESSING", "pRoCeSsInG"} {
		snap, err := BuildSnapshot(raw, map[string]any{"status_message": "x"}, DefaultProcessingAliases)
		if err != nil {
			t.Fatalf("BuildSnapshot(%q) failed: %v", raw, err)
		}
		if snap.State == StateSuccess || snap.State == StateFailed {
			t.Errorf("BuildSnapshot(%q) reported terminal state %s", raw, snap.State)
		}
	}
}

func encode(t *testing.T, snap Snapshot) map[string]any {
	t.Helper()
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	return out
}

func TestBuildSnapshotPending(t *testing.T) {
	snap, err := BuildSnapshot(tasks.StatePending, nil, DefaultProcessingAliases)
	if err != nil {
		t.Fatalf("BuildSnapshot failed: %v", err)
	}
	got := encode(t, snap)
	if got["state"] != "pending" || got["status_message"] != PendingMessage {
		t.Errorf("Unexpected pending snapshot: %v", got)
	}
	if _, ok := got["error_message"]; ok {
		t.Error("Pending snapshot must not carry error_message")
	}
}

func TestBuildSnapshotProcessing(t *testing.T) {
	tests := []struct {
		name string
		info any
		want string
	}{
		{"with message", map[string]any{"status_message": "Import row 10"}, "Import row 10"},
		{"without message", map[string]any{}, ""},
		{"nil info", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := BuildSnapshot(tasks.StateStarted, tt.info, DefaultProcessingAliases)
			if err != nil {
				t.Fatalf("BuildSnapshot failed: %v", err)
			}
			got := encode(t, snap)
			if got["state"] != "processing" {
				t.Errorf("Expected processing, got %v", got["state"])
			}
			msg, ok := got["status_message"]
			if !ok {
				t.Fatal("Expected status_message key to be present")
			}
			if msg != tt.want {
				t.Errorf("Expected status_message %q, got %q", tt.want, msg)
			}
		})
	}
}

func TestBuildSnapshotSuccessCopiesOptionalKeys(t *testing.T) {
	info := map[string]any{
		"error_message": "x",
		"data":          map[string]any{"a": float64(1)},
	}
	snap, err := BuildSnapshot(tasks.StateSuccess, info, DefaultProcessingAliases)
	if err != nil {
		t.Fatalf("BuildSnapshot failed: %v", err)
	}
	got := encode(t, snap)

	if got["state"] != "success" {
		t.Errorf("Expected success, got %v", got["state"])
	}
	if got["error_message"] != "x" {
		t.Errorf("Expected error_message x, got %v", got["error_message"])
	}
	data, ok := got["data"].(map[string]any)
	if !ok || data["a"] != float64(1) {
		t.Errorf("Expected data {a:1}, got %v", got["data"])
	}
	if got["status_message"] != "" {
		t.Errorf("Expected empty status_message, got %v", got["status_message"])
	}
}

func TestBuildSnapshotSuccessWithEmptyInfo(t *testing.T) {
	snap, err := BuildSnapshot(tasks.StateSuccess, map[string]any{}, DefaultProcessingAliases)
	if err != nil {
		t.Fatalf("BuildSnapshot failed: %v", err)
	}
	got := encode(t, snap)

	if _, ok := got["error_message"]; ok {
		t.Error("Expected no error_message key")
	}
	if _, ok := got["data"]; ok {
		t.Error("Expected no data key")
	}
}

func TestBuildSnapshotSuccessKeepsNullData(t *testing.T) {
	snap, err := BuildSnapshot(tasks.StateSuccess, map[string]any{"data": nil}, DefaultProcessingAliases)
	if err != nil {
		t.Fatalf("BuildSnapshot failed: %v", err)
	}
	got := encode(t, snap)
	v, ok := got["data"]
	if !ok || v != nil {
		t.Errorf("Expected data key with null value, got %v (present=%v)", v, ok)
	}
}

func TestBuildSnapshotFailureUsesInfoText(t *testing.T) {
	tests := []struct {
		name string
		raw  tasks.State
		info any
		want string
	}{
		{"failure with error text", tasks.StateFailure, "KeyError: 'sheet'", "KeyError: 'sheet'"},
		{"unknown state", "EXPLODED", "boom", "boom"},
		{"error value", tasks.StateFailure, errors.New("disk full"), "disk full"},
		{"structured info", tasks.StateRevoked, map[string]any{"reason": "terminated"}, `{"reason":"terminated"}`},
		{"no info", tasks.StateFailure, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := BuildSnapshot(tt.raw, tt.info, DefaultProcessingAliases)
			if err != nil {
				t.Fatalf("BuildSnapshot failed: %v", err)
			}
			if snap.State != StateFailed {
				t.Errorf("Expected failed, got %s", snap.State)
			}
			if snap.ErrorMessage == nil || *snap.ErrorMessage != tt.want {
				t.Errorf("Expected error_message %q, got %v", tt.want, snap.ErrorMessage)
			}
			if snap.StatusMessage != nil {
				t.Error("Failed snapshot must not carry status_message")
			}
		})
	}
}

func TestBuildSnapshotUnencodableData(t *testing.T) {
	_, err := BuildSnapshot(tasks.StateSuccess, map[string]any{"data": make(chan int)}, DefaultProcessingAliases)
	if err == nil {
		t.Error("Expected error for data that cannot be encoded")
	}
}

func TestBuildSnapshotRejectsNonMappingInfo(t *testing.T) {
	for _, raw := range []tasks.State{tasks.StateStarted, tasks.StateProcessing, tasks.StateSuccess} {
		if _, err := BuildSnapshot(raw, "half done", DefaultProcessingAliases); err == nil {
			t.Errorf("BuildSnapshot(%q) with text info: expected error", raw)
		}
	}
}
