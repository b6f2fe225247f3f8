// Package httpapi exposes the swarm over HTTP: a small REST surface for
// starting and inspecting runs, plus SSE and WebSocket streams of run events.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/praxislabs/concord/internal/coordinator"
)

// RunsHandler serves the run lifecycle endpoints.
type RunsHandler struct {
	coord  *coordinator.Coordinator
	logger *zap.Logger
}

func NewRunsHandler(coord *coordinator.Coordinator, logger *zap.Logger) *RunsHandler {
	return &RunsHandler{coord: coord, logger: logger}
}

// RegisterRoutes registers run routes on the provided mux.
func (h *RunsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/runs", h.handleRuns)
	mux.HandleFunc("/api/v1/runs/", h.handleRun)
}

type startRequest struct {
	Title    string            `json:"title"`
	Source   string            `json:"source,omitempty"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Strategy string            `json:"strategy,omitempty"`
	AgentIDs []string          `json:"agent_ids,omitempty"`
}

// handleRuns starts a run.
// POST /api/v1/runs
func (h *RunsHandler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	runID, err := h.coord.Start(r.Context(), coordinator.Request{
		Title:    req.Title,
		Source:   req.Source,
		Text:     req.Text,
		Metadata: req.Metadata,
		Strategy: req.Strategy,
		AgentIDs: req.AgentIDs,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("Run accepted", zap.String("run_id", runID), zap.String("strategy", req.Strategy))
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// handleRun dispatches per-run subresources.
// GET  /api/v1/runs/{id}
// GET  /api/v1/runs/{id}/report
// POST /api/v1/runs/{id}/cancel
func (h *RunsHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	parts := strings.SplitN(rest, "/", 2)
	runID := parts[0]
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run id required")
		return
	}
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		status, err := h.coord.Status(runID)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, status)

	case sub == "report" && r.Method == http.MethodGet:
		report, err := h.coord.Report(runID)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, report)

	case sub == "cancel" && r.Method == http.MethodPost:
		if err := h.coord.Cancel(runID); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"})

	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
