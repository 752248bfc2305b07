package health

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Handlers exposes the health REST surface over a registry: a plain
// ServeMux, json.NewEncoder(w).Encode for bodies, http.Error for failures.
type Handlers struct {
	registry *Registry
}

// NewHandlers builds Handlers backed by registry.
func NewHandlers(registry *Registry) *Handlers {
	return &Handlers{registry: registry}
}

// Register wires every health endpoint onto mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health/ping", h.handlePing)
	mux.HandleFunc("/health/summary", h.handleSummary)
	mux.HandleFunc("/health/healthy", h.handleHealthy)
	mux.HandleFunc("/health/unhealthy", h.handleUnhealthy)
	mux.HandleFunc("/health/nodes/", h.handleNode)
}

func (h *Handlers) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func (h *Handlers) handleSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.registry.Summarize())
}

func (h *Handlers) handleHealthy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.registry.ListHealthy())
}

func (h *Handlers) handleUnhealthy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.registry.ListUnhealthy())
}

func (h *Handlers) handleNode(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/health/nodes/")
	if id == "" {
		http.Error(w, "node id required", http.StatusBadRequest)
		return
	}
	rec, ok := h.registry.Get(id)
	if !ok {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}
	writeJSON(w, rec)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
