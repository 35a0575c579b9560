package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"minerva/internal/orchestrator"
	"minerva/pkg/errors"
	"minerva/pkg/logger"
)

// runHandlers exposes the orchestrator over REST plus an SSE progress stream.
type runHandlers struct {
	svc *orchestrator.Service
	log *logger.Logger
}

func (h *runHandlers) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/runs", h.startRun)
	mux.HandleFunc("GET /v1/runs", h.listRuns)
	mux.HandleFunc("GET /v1/runs/{id}", h.getRun)
	mux.HandleFunc("GET /v1/runs/{id}/decision", h.getDecision)
	mux.HandleFunc("GET /v1/runs/{id}/events", h.streamEvents)
	mux.HandleFunc("DELETE /v1/cache/{symbol}", h.invalidateSymbol)
}

func (h *runHandlers) startRun(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	rec, err := h.svc.StartRun(r.Context(), req)
	if err != nil {
		h.writeStartError(w, err)
		return
	}

	status := http.StatusAccepted
	if rec.CacheHit {
		status = http.StatusOK
	}
	writeJSON(w, status, rec)
}

func (h *runHandlers) writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrInvalidSymbol),
		errors.Is(err, errors.ErrInvalidInput),
		errors.Is(err, errors.ErrUnsupportedModel):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errors.ErrMissingCredential):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Errorw("run start failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *runHandlers) listRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs": h.svc.ListActive(),
	})
}

func (h *runHandlers) getRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.GetRun(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *runHandlers) getDecision(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	decision, err := h.svc.GetDecision(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// streamEvents tails a run's progress stream as server-sent events. Replayed
// history arrives first, then live events until the terminal stage closes the
// stream.
func (h *runHandlers) streamEvents(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	stream, err := h.svc.Subscribe(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-stream:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.log.Warnw("event encode failed", "run_id", runID, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Stage, payload)
			flusher.Flush()
		}
	}
}

func (h *runHandlers) invalidateSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if err := h.svc.InvalidateSymbol(r.Context(), symbol); err != nil {
		h.log.Errorw("cache invalidation failed", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed run id")
		return uuid.Nil, false
	}
	return runID, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
