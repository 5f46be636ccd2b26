// Package api provides the read-only HTTP API over the value store.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/martinkalmus/ha-timnet/internal/domain"
	"github.com/martinkalmus/ha-timnet/internal/store"
)

// Handler serves the value-store endpoints.
type Handler struct {
	store   *store.Store
	version string
	logger  zerolog.Logger
}

// NewHandler creates an API handler over the given store.
func NewHandler(valueStore *store.Store, version string, logger zerolog.Logger) *Handler {
	return &Handler{
		store:   valueStore,
		version: version,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// Register mounts the API routes on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/values", h.ValuesHandler)
	mux.HandleFunc("/api/values/", h.ValueHandler)
	mux.HandleFunc("/api/status", h.StatusHandler)
}

// ValuesResponse is the body of GET /api/values.
type ValuesResponse struct {
	Connection domain.ConnectionState `json:"connection"`
	Readings   []domain.Reading       `json:"readings"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Connection  domain.ConnectionState `json:"connection"`
	LastSuccess time.Time              `json:"last_success,omitempty"`
	Readings    int                    `json:"readings"`
	Version     string                 `json:"version"`
}

// ValuesHandler returns every stored reading, sorted by key.
func (h *Handler) ValuesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, _ := h.store.Connection()
	h.writeJSON(w, http.StatusOK, ValuesResponse{
		Connection: state,
		Readings:   h.store.Snapshot(),
	})
}

// ValueHandler returns one reading by key.
func (h *Handler) ValueHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/api/values/")
	if key == "" || strings.Contains(key, "/") {
		http.Error(w, "Invalid reading key", http.StatusBadRequest)
		return
	}

	reading, ok := h.store.Get(key)
	if !ok {
		http.Error(w, "Unknown reading key", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, reading)
}

// StatusHandler returns the connection state and store summary.
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, lastSuccess := h.store.Connection()
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Connection:  state,
		LastSuccess: lastSuccess,
		Readings:    len(h.store.Snapshot()),
		Version:     h.version,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
