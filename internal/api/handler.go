package api

import (
	"encoding/json"
	"net/http"

	"github.com/pulsar-rules/pulsar/internal/domain"
	"github.com/pulsar-rules/pulsar/internal/runtime"
)

// Handler serves the runtime status endpoints.
type Handler struct {
	orch     *runtime.Orchestrator
	store    domain.SensorStore
	manifest *domain.Manifest
	version  string
}

// NewHandler creates the handler for a running orchestrator.
func NewHandler(orch *runtime.Orchestrator, store domain.SensorStore, manifest *domain.Manifest, version string) *Handler {
	return &Handler{orch: orch, store: store, manifest: manifest, version: version}
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// Ready reports store reachability.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Status returns cycle counters and per-rule stats.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Status())
}

// Manifest serves the loaded rule manifest.
func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	if h.manifest == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "manifest not loaded"})
		return
	}
	writeJSON(w, http.StatusOK, h.manifest)
}

// SetActive flips the active/passive signal.
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Active == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {\"active\": bool}"})
		return
	}
	h.orch.SetActive(*body.Active)
	writeJSON(w, http.StatusOK, map[string]bool{"active": *body.Active})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
