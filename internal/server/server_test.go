package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nick-dorsch/relay/internal/coordinator"
	"github.com/nick-dorsch/relay/internal/db"
	"github.com/nick-dorsch/relay/internal/scheduler"
	"github.com/nick-dorsch/relay/pkg/models"
)

func newTestServer(t *testing.T) (*Server, *coordinator.Coordinator) {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	c := coordinator.New(database, database)
	return NewServer(c, nil), c
}

func get(t *testing.T, srv *Server, path string, v any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("%s: expected JSON content type, got %q", path, ct)
	}
	if v != nil {
		if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
			t.Fatalf("%s: failed to decode response: %v\n%s", path, err, w.Body.String())
		}
	}
	return w.Code
}

func TestServer_Uninitialized(t *testing.T) {
	srv, _ := newTestServer(t)

	var payload models.ErrorPayload
	if code := get(t, srv, "/api/state", &payload); code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", code)
	}
	if payload.Error.Kind != models.KindUninitialized {
		t.Errorf("Expected Uninitialized, got %s", payload.Error.Kind)
	}
}

func TestServer_API(t *testing.T) {
	srv, c := newTestServer(t)
	ctx := context.Background()

	_, err := c.InitProject(ctx, "demo", []models.TaskSpec{
		{ID: "A", Name: "first", Priority: 1},
		{ID: "B", Name: "second", Priority: 5, Dependencies: []string{"A"}},
	})
	if err != nil {
		t.Fatalf("InitProject failed: %v", err)
	}
	if _, err := c.ClaimTask(ctx, "A"); err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}

	t.Run("GET /api/state", func(t *testing.T) {
		var st coordinator.State
		if code := get(t, srv, "/api/state", &st); code != http.StatusOK {
			t.Fatalf("Expected status OK, got %v", code)
		}
		if st.Project.Goal != "demo" {
			t.Errorf("Expected goal demo, got %q", st.Project.Goal)
		}
		if len(st.Executing) != 1 || st.Executing[0] != "A" {
			t.Errorf("Expected A executing, got %v", st.Executing)
		}
	})

	t.Run("GET /api/next", func(t *testing.T) {
		var res scheduler.Result
		if code := get(t, srv, "/api/next", &res); code != http.StatusOK {
			t.Fatalf("Expected status OK, got %v", code)
		}
		if res.Reason != scheduler.ReasonInFlight {
			t.Errorf("Expected in_flight, got %s", res.Reason)
		}
	})

	t.Run("GET /api/tasks", func(t *testing.T) {
		var tasks []*models.Task
		get(t, srv, "/api/tasks", &tasks)
		if len(tasks) != 2 {
			t.Errorf("Expected 2 tasks, got %d", len(tasks))
		}

		get(t, srv, "/api/tasks?status=executing", &tasks)
		if len(tasks) != 1 || tasks[0].ID != "A" {
			t.Errorf("Expected [A], got %v", tasks)
		}

		get(t, srv, "/api/tasks?status=blocked", &tasks)
		if len(tasks) != 0 {
			t.Errorf("Expected no blocked tasks, got %v", tasks)
		}

		var payload models.ErrorPayload
		if code := get(t, srv, "/api/tasks?status=done", &payload); code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", code)
		}
		if payload.Error.Kind != models.KindInvalidArgument {
			t.Errorf("Expected InvalidArgument, got %s", payload.Error.Kind)
		}
	})

	t.Run("GET /api/tasks/{id}", func(t *testing.T) {
		var task models.Task
		if code := get(t, srv, "/api/tasks/B", &task); code != http.StatusOK {
			t.Fatalf("Expected status OK, got %v", code)
		}
		if task.ID != "B" || task.Status != models.TaskStatusPending {
			t.Errorf("Unexpected task: %+v", task)
		}

		var payload models.ErrorPayload
		if code := get(t, srv, "/api/tasks/Z", &payload); code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", code)
		}
		if payload.Error.Kind != models.KindNotFound || payload.Error.TaskID != "Z" {
			t.Errorf("Unexpected error payload: %+v", payload)
		}
	})

	t.Run("GET /api/tasks/{id}/dependencies", func(t *testing.T) {
		var resp struct {
			Dependencies []*models.Task `json:"dependencies"`
		}
		get(t, srv, "/api/tasks/B/dependencies", &resp)
		if len(resp.Dependencies) != 1 || resp.Dependencies[0].ID != "A" {
			t.Errorf("Expected [A], got %v", resp.Dependencies)
		}
	})

	t.Run("GET /api/tasks/{id}/dependents", func(t *testing.T) {
		var resp struct {
			Dependents []*models.Task `json:"dependents"`
		}
		get(t, srv, "/api/tasks/A/dependents", &resp)
		if len(resp.Dependents) != 1 || resp.Dependents[0].ID != "B" {
			t.Errorf("Expected [B], got %v", resp.Dependents)
		}
	})

	t.Run("POST is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/state", nil)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", w.Code)
		}
	})
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		kind models.ErrorKind
		want int
	}{
		{models.KindNotFound, http.StatusNotFound},
		{models.KindUninitialized, http.StatusNotFound},
		{models.KindConflict, http.StatusConflict},
		{models.KindInvalidArgument, http.StatusBadRequest},
		{models.KindStorageCorrupt, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusCode(models.Errorf(tt.kind, "", "x")); got != tt.want {
			t.Errorf("statusCode(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
