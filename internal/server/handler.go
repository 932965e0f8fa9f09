package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/psantana5/runtrail/internal/catalog"
	"github.com/psantana5/runtrail/internal/report"
	"github.com/psantana5/runtrail/pkg/command"
	"github.com/psantana5/runtrail/pkg/logging"
	"github.com/psantana5/runtrail/pkg/logqueue"
)

const maxBodyBytes = 1 << 20

// Handler exposes the command catalog and run metrics over HTTP.
type Handler struct {
	catalog  *catalog.Catalog
	metrics  *report.Metrics
	failures *report.FailureLog
	queue    *logqueue.Queue
	logger   *logging.Logger

	inflight atomic.Int64
}

func NewHandler(c *catalog.Catalog, m *report.Metrics, f *report.FailureLog, q *logqueue.Queue, logger *logging.Logger) *Handler {
	return &Handler{
		catalog:  c,
		metrics:  m,
		failures: f,
		queue:    q,
		logger:   logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/commands", h.ListCommands).Methods("GET")
	r.HandleFunc("/commands/{name}", h.GetCommand).Methods("GET")
	r.HandleFunc("/commands/{name}", h.RunCommand).Methods("POST")

	r.HandleFunc("/failures", h.RecentFailures).Methods("GET")
	r.Handle("/metrics", h.metrics.Handler()).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// Inflight is the number of commands currently running on behalf of a request.
func (h *Handler) Inflight() int64 {
	return h.inflight.Load()
}

type commandInfo struct {
	Name    string          `json:"name"`
	Purpose string          `json:"purpose"`
	Example json.RawMessage `json:"example"`
}

func toInfo(e catalog.Entry) commandInfo {
	return commandInfo{Name: e.Name, Purpose: e.Purpose, Example: json.RawMessage(e.Example)}
}

func (h *Handler) ListCommands(w http.ResponseWriter, r *http.Request) {
	entries := h.catalog.Entries()
	infos := make([]commandInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, toInfo(e))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"commands": infos, "count": len(infos)})
}

func (h *Handler) GetCommand(w http.ResponseWriter, r *http.Request) {
	e, ok := h.catalog.Get(mux.Vars(r)["name"])
	if !ok {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}
	writeJSON(w, http.StatusOK, toInfo(e))
}

type runResponse struct {
	Command string      `json:"command"`
	Output  interface{} `json:"output"`
}

// RunCommand invokes a catalog command with the request body as input.
func (h *Handler) RunCommand(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	entry, ok := h.catalog.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	h.inflight.Add(1)
	defer h.inflight.Add(-1)

	output, err := h.invoke(r, entry, body)
	if err != nil {
		status := statusFor(err)
		h.logger.Warn("command run failed", map[string]interface{}{
			"command": name,
			"status":  status,
			"error":   err.Error(),
		})
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, runResponse{Command: name, Output: output})
}

// invoke turns a re-raised command panic into an error for this request.
// The run log already holds the failure by then.
func (h *Handler) invoke(r *http.Request, entry catalog.Entry, body []byte) (output interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("command panicked: %v", p)
		}
	}()
	return entry.Invoke(r.Context(), body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrBadInput), command.IsPrecondition(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) RecentFailures(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	samples := h.failures.GetRecent(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"failures": samples,
		"count":    len(samples),
		"total":    h.failures.Count(),
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"queue_depth": h.queue.Depth(),
		"inflight":    h.Inflight(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
