package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/psantana5/runtrail/internal/catalog"
	"github.com/psantana5/runtrail/internal/report"
	"github.com/psantana5/runtrail/internal/server"
	"github.com/psantana5/runtrail/pkg/command"
	"github.com/psantana5/runtrail/pkg/logging"
	"github.com/psantana5/runtrail/pkg/logqueue"
)

func newTestServer(t *testing.T) (http.Handler, *report.FailureLog) {
	t.Helper()
	dir := t.TempDir()
	logger := logging.NewLoggerTo(io.Discard, logging.ERROR, true)
	metrics := report.NewMetrics()
	queue := logqueue.New(logqueue.WithMetrics(metrics))
	failures := report.NewFailureLog(10)

	cat := catalog.New(func(name, purpose string) command.Config {
		return command.Config{
			Name:     name,
			Purpose:  purpose,
			Stage:    "test",
			Log:      logger,
			Dir:      dir,
			Queue:    queue,
			Metrics:  metrics,
			Failures: failures,
		}
	})

	h := server.NewHandler(cat, metrics, failures, queue, logger)
	return server.NewHTTPServer(":0", h).Handler, failures
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t)
	w := do(t, h, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status field = %v", resp["status"])
	}
}

func TestListAndGetCommands(t *testing.T) {
	h, _ := newTestServer(t)

	w := do(t, h, "GET", "/commands", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list struct {
		Commands []struct {
			Name string `json:"name"`
		} `json:"commands"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 5 || list.Commands[0].Name != "double" {
		t.Errorf("unexpected listing: %+v", list)
	}

	if w := do(t, h, "GET", "/commands/greet", ""); w.Code != http.StatusOK {
		t.Errorf("GET /commands/greet status = %d", w.Code)
	}
	if w := do(t, h, "GET", "/commands/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET /commands/missing status = %d, want 404", w.Code)
	}
}

func TestRunCommand(t *testing.T) {
	h, failures := newTestServer(t)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"double", "/commands/double", `{"value": 21}`, http.StatusOK, `"doubled":42`},
		{"echo", "/commands/echo", `"hi"`, http.StatusOK, `"output":"hi"`},
		{"bad input", "/commands/double", `{"value": "x"}`, http.StatusBadRequest, "invalid command input"},
		{"unknown", "/commands/nope", `{}`, http.StatusNotFound, "command not found"},
		{"failure", "/commands/fail", `{"reason": "demo"}`, http.StatusInternalServerError, "intentional failure: demo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, "POST", tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}

	if failures.Count() != 1 {
		t.Errorf("failure log holds %d runs, want only the fail run", failures.Count())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestServer(t)
	do(t, h, "POST", "/commands/double", `{"value": 1}`)

	w := do(t, h, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `runtrail_runs_started_total{command="double"} 1`) {
		t.Errorf("metrics output missing runtrail families:\n%s", w.Body.String())
	}
}

func TestRecentFailures(t *testing.T) {
	h, _ := newTestServer(t)

	if w := do(t, h, "GET", "/failures?limit=0", ""); w.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", w.Code)
	}
	w := do(t, h, "GET", "/failures?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"count":0`) {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}
