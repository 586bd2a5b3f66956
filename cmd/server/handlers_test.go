package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/guido-cesarano/productdb/pkg/queue"
	"github.com/guido-cesarano/productdb/pkg/status"
	"github.com/guido-cesarano/productdb/pkg/tasks"
)

func TestTaskStatusGate(t *testing.T) {
	tests := []struct {
		name           string
		ajax           bool
		debug          bool
		expectedStatus int
	}{
		{name: "plain request", expectedStatus: http.StatusBadRequest},
		{name: "ajax request", ajax: true, expectedStatus: http.StatusOK},
		{name: "debug mode", debug: true, expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _, _ := newTestRouter(t, "", tt.debug)

			req := httptest.NewRequest(http.MethodGet, "/productdb/task/watch/t1", nil)
			if tt.ajax {
				req.Header.Set("X-Requested-With", "XMLHttpRequest")
			}
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus == http.StatusBadRequest {
				if w.Body.String() != "Bad Request" {
					t.Errorf("Expected body %q, got %q", "Bad Request", w.Body.String())
				}
				return
			}

			var snap status.Snapshot
			if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
				t.Fatalf("Expected a JSON snapshot, got %q: %v", w.Body.String(), err)
			}
			if snap.State != status.StatePending || snap.StatusMessage == nil || *snap.StatusMessage != status.PendingMessage {
				t.Errorf("Expected pending snapshot, got %+v", snap)
			}
		})
	}
}

func TestTaskStatusSnapshot(t *testing.T) {
	mux, client, _ := newTestRouter(t, "", false)
	ctx := context.Background()

	poll := func(id string) map[string]interface{} {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/productdb/task/watch/"+id, nil)
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var body map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Invalid JSON %q: %v", w.Body.String(), err)
		}
		return body
	}

	body := poll("unknown")
	if body["state"] != "pending" || body["status_message"] != status.PendingMessage {
		t.Errorf("Expected pending snapshot, got %v", body)
	}

	if err := client.SetState(ctx, "t1", tasks.StateProcessing, map[string]interface{}{"status_message": "Step 2 of 5"}); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	body = poll("t1")
	if body["state"] != "processing" || body["status_message"] != "Step 2 of 5" {
		t.Errorf("Expected processing snapshot, got %v", body)
	}

	info := map[string]interface{}{"data": map[string]interface{}{"rows": 3}}
	if err := client.SetState(ctx, "t2", tasks.StateSuccess, info); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	body = poll("t2")
	if body["state"] != "success" {
		t.Errorf("Expected success, got %v", body)
	}
	if _, ok := body["error_message"]; ok {
		t.Errorf("Expected no error_message, got %v", body)
	}
	data, ok := body["data"].(map[string]interface{})
	if !ok || data["rows"] != float64(3) {
		t.Errorf("Expected data to be copied, got %v", body["data"])
	}

	if err := client.SetState(ctx, "t3", tasks.StateFailure, "boom"); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	body = poll("t3")
	if body["state"] != "failed" || body["error_message"] != "boom" {
		t.Errorf("Expected failed snapshot, got %v", body)
	}
}

func TestTaskStatusStoreUnavailable(t *testing.T) {
	mux, _, s := newTestRouter(t, "", false)
	s.Close()

	req := httptest.NewRequest(http.MethodGet, "/productdb/task/watch/t1", nil)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var snap status.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if snap.State != status.StateFailed || snap.ErrorMessage == nil || *snap.ErrorMessage != status.StoreUnavailableMessage {
		t.Errorf("Expected store unavailable failure, got %+v", snap)
	}
}

func TestEnqueueWritesMetadata(t *testing.T) {
	mux, client, s := newTestRouter(t, "", false)

	body := `{"type":"productdb.import_price_list","payload":{"file":"prices.csv"},"priority":2,
		"title":"Importing prices","redirect_to":"/productdb/prices/","auto_redirect":true}`
	req := httptest.NewRequest(http.MethodPost, "/enqueue", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp enqueueResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if resp.TaskID == "" {
		t.Fatal("Expected a task ID")
	}
	if resp.ProgressURL != "/productdb/task/"+resp.TaskID || resp.StatusURL != "/productdb/task/watch/"+resp.TaskID {
		t.Errorf("Unexpected URLs: %+v", resp)
	}

	meta, err := client.GetMetadata(context.Background(), resp.TaskID)
	if err != nil || meta == nil {
		t.Fatalf("Expected metadata, got %v, %v", meta, err)
	}
	if meta.Title != "Importing prices" || meta.RedirectTo != "/productdb/prices/" || !meta.AutoRedirect {
		t.Errorf("Unexpected metadata: %+v", meta)
	}

	list, err := s.List(queue.QueueHigh)
	if err != nil || len(list) != 1 {
		t.Fatalf("Expected one high priority task, got %v, %v", list, err)
	}
}

func TestEnqueueDefaultsPriority(t *testing.T) {
	mux, _, s := newTestRouter(t, "", false)

	req := httptest.NewRequest(http.MethodPost, "/enqueue", strings.NewReader(`{"type":"productdb.perform_product_check"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	if list, _ := s.List(queue.QueueDefault); len(list) != 1 {
		t.Errorf("Expected task on the default queue, got %v", list)
	}
}

func TestEnqueueValidation(t *testing.T) {
	mux, _, _ := newTestRouter(t, "", false)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"type":`},
		{"missing type", `{"payload":{}}`},
		{"priority out of range", `{"type":"x","priority":7}`},
		{"absolute redirect", `{"type":"x","redirect_to":"http://evil.example"}`},
		{"protocol-relative redirect", `{"type":"x","redirect_to":"//evil.example/phish","auto_redirect":true}`},
		{"backslash redirect", `{"type":"x","redirect_to":"/\\evil.example/phish"}`},
		{"redirect without leading slash", `{"type":"x","redirect_to":"productdb/prices/"}`},
		{"title too long", `{"type":"x","title":"` + strings.Repeat("a", 256) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/enqueue", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", w.Code)
			}
		})
	}
}

func TestTaskProgressPage(t *testing.T) {
	mux, client, _ := newTestRouter(t, "", false)
	ctx := context.Background()

	meta := tasks.Metadata{Title: "Importing prices", RedirectTo: "/productdb/prices/", AutoRedirect: true}
	if err := client.SetMetadata(ctx, "t1", meta); err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/productdb/task/t1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	page := w.Body.String()
	for _, want := range []string{"<title>Importing prices</title>", `href="/productdb/prices/"`, "X-Requested-With", `data-auto-redirect="true"`} {
		if !strings.Contains(page, want) {
			t.Errorf("Expected page to contain %q", want)
		}
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/productdb/task/t2", nil))
	page = w.Body.String()
	if !strings.Contains(page, "<title>"+status.DefaultTitle+"</title>") {
		t.Error("Expected default title")
	}
	if !strings.Contains(page, `data-redirect-to="/productdb/"`) || !strings.Contains(page, `data-auto-redirect="false"`) {
		t.Error("Expected fallback to the home page without auto redirect")
	}
}

func TestSchedule(t *testing.T) {
	mux, _, _ := newTestRouter(t, "", false)

	req := httptest.NewRequest(http.MethodPost, "/schedule", strings.NewReader(`{"spec":"@every 1h","type":"productdb.delete_all_product_checks"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("Expected 201, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/schedule", strings.NewReader(`{"spec":"not a spec","type":"x"}`))
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid spec, got %d", w.Code)
	}
}

func TestTasksRequiresKnownQueue(t *testing.T) {
	mux, _, _ := newTestRouter(t, "", false)

	for _, target := range []string{"/tasks", "/tasks?queue=secret"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, w.Code)
		}
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks?queue="+queue.QueueDefault, nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}
