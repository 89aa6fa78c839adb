package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crontabd/internal/core"
	"crontabd/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServer(t *testing.T, authToken string) *Server {
	t.Helper()
	stores := make(map[string]*store.MemoryStore)
	crontab := core.NewCrontab(func(tenant string) (core.TaskStore, error) {
		s, ok := stores[tenant]
		if !ok {
			s = store.NewMemoryStore()
			stores[tenant] = s
		}
		return s, nil
	}, testLogger(), func(msg string, err error) {
		t.Fatalf("cache sync failure: %s: %v", msg, err)
	})

	server, err := NewServer("127.0.0.1:0", authToken, crontab, testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return server
}

func doRequest(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

const validSpec = `{"url":"https://example.com/hook","every":{"starting_at":"2026-01-01T00:00:00","minutes":5}}`

func TestCreateTask(t *testing.T) {
	s := testServer(t, "")

	rec := doRequest(s, http.MethodPost, "/v1/tenants/acme/tasks/", validSpec, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body)
	}
	var created taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" {
		t.Error("created task has no id")
	}
	if created.Version != 0 {
		t.Errorf("created version = %d, want 0", created.Version)
	}
	if created.Spec.URL != "https://example.com/hook" {
		t.Errorf("created url = %q", created.Spec.URL)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	s := testServer(t, "")

	tests := []struct {
		name        string
		body        string
		wantMessage string
	}{
		{
			name:        "invalid json",
			body:        `{`,
			wantMessage: "invalid JSON payload",
		},
		{
			name:        "no url",
			body:        `{"every":{"starting_at":"2026-01-01T00:00:00","minutes":5}}`,
			wantMessage: "no url provided",
		},
		{
			name:        "no expression",
			body:        `{"url":"https://example.com/hook"}`,
			wantMessage: "must provide an expression (one of at, every)",
		},
		{
			name:        "two every fields",
			body:        `{"url":"https://example.com/hook","every":{"starting_at":"2026-01-01T00:00:00","minutes":5,"hours":1}}`,
			wantMessage: "cannot provide more than one field in an every expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(s, http.MethodPost, "/v1/tenants/acme/tasks/", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body %s", rec.Code, rec.Body)
			}
			var payload struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
				t.Fatalf("decode error payload: %v", err)
			}
			if payload.Error.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", payload.Error.Message, tt.wantMessage)
			}
		})
	}
}

func TestGetUpdateDeleteTask(t *testing.T) {
	s := testServer(t, "")

	rec := doRequest(s, http.MethodPost, "/v1/tenants/acme/tasks/", validSpec, nil)
	var created taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created task: %v", err)
	}
	base := "/v1/tenants/acme/tasks/" + created.ID + "/"

	rec = doRequest(s, http.MethodGet, base, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec.Code)
	}

	newSpec := `{"url":"https://example.com/other","at":{"minute_of_hours":30}}`
	rec = doRequest(s, http.MethodPut, base, newSpec, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	var updated taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode updated task: %v", err)
	}
	if updated.Spec.URL != "https://example.com/other" {
		t.Errorf("updated url = %q", updated.Spec.URL)
	}
	if updated.Version != 1 {
		t.Errorf("updated version = %d, want 1", updated.Version)
	}

	rec = doRequest(s, http.MethodDelete, base, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", rec.Code)
	}
	rec = doRequest(s, http.MethodGet, base, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET after delete status = %d, want 404", rec.Code)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := testServer(t, "")
	rec := doRequest(s, http.MethodGet, "/v1/tenants/acme/tasks/missing/", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListTasksPagination(t *testing.T) {
	s := testServer(t, "")
	for i := 0; i < 12; i++ {
		spec := fmt.Sprintf(`{"url":"https://example.com/%d","at":{"minute_of_hours":0}}`, i)
		if rec := doRequest(s, http.MethodPost, "/v1/tenants/acme/tasks/", spec, nil); rec.Code != http.StatusCreated {
			t.Fatalf("seed task %d: status %d", i, rec.Code)
		}
	}

	t.Run("complete listing is a 200", func(t *testing.T) {
		rec := doRequest(s, http.MethodGet, "/v1/tenants/acme/tasks/", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var tasks []taskResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(tasks) != 12 {
			t.Errorf("listed %d tasks, want 12", len(tasks))
		}
	})

	t.Run("partial page is a 206 with content range", func(t *testing.T) {
		rec := doRequest(s, http.MethodGet, "/v1/tenants/acme/tasks/", "", map[string]string{"Range": "5-9"})
		if rec.Code != http.StatusPartialContent {
			t.Fatalf("status = %d, want 206", rec.Code)
		}
		if got := rec.Header().Get("Content-Range"); got != "Task 5-9/12" {
			t.Errorf("Content-Range = %q, want %q", got, "Task 5-9/12")
		}
		var tasks []taskResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(tasks) != 5 {
			t.Errorf("listed %d tasks, want 5", len(tasks))
		}
		if tasks[0].Spec.URL != "https://example.com/5" {
			t.Errorf("first url = %q, want the sixth task", tasks[0].Spec.URL)
		}
	})

	t.Run("clipped tail page is a 206", func(t *testing.T) {
		rec := doRequest(s, http.MethodGet, "/v1/tenants/acme/tasks/", "", map[string]string{"Range": "10-50"})
		if rec.Code != http.StatusPartialContent {
			t.Fatalf("status = %d, want 206", rec.Code)
		}
		if got := rec.Header().Get("Content-Range"); got != "Task 10-11/12" {
			t.Errorf("Content-Range = %q, want %q", got, "Task 10-11/12")
		}
	})

	t.Run("malformed range is a 416", func(t *testing.T) {
		for _, header := range []string{"nope", "5", "9-5", "-1-4"} {
			rec := doRequest(s, http.MethodGet, "/v1/tenants/acme/tasks/", "", map[string]string{"Range": header})
			if rec.Code != http.StatusRequestedRangeNotSatisfiable {
				t.Errorf("Range %q: status = %d, want 416", header, rec.Code)
			}
		}
	})

	t.Run("range past the end is a 416", func(t *testing.T) {
		rec := doRequest(s, http.MethodGet, "/v1/tenants/acme/tasks/", "", map[string]string{"Range": "100-110"})
		if rec.Code != http.StatusRequestedRangeNotSatisfiable {
			t.Fatalf("status = %d, want 416", rec.Code)
		}
		if got := rec.Header().Get("Content-Range"); got != "Task */12" {
			t.Errorf("Content-Range = %q, want %q", got, "Task */12")
		}
	})
}

func TestAuthMiddleware(t *testing.T) {
	s := testServer(t, "sekret")

	rec := doRequest(s, http.MethodGet, "/v1/tenants/acme/tasks/", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want 401", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/v1/tenants/acme/tasks/", "", map[string]string{"Authorization": "Bearer sekret"})
	if rec.Code != http.StatusOK {
		t.Errorf("with bearer token: status = %d, want 200", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/v1/tenants/acme/tasks/?token=sekret", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("with query token: status = %d, want 200", rec.Code)
	}

	// Health stays open.
	rec = doRequest(s, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: status = %d, want 200", rec.Code)
	}
}
