// Package api provides HTTP handlers for the interaction API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/vidsync-labs/internal/config"
	"github.com/ashureev/vidsync-labs/internal/interaction"
	"github.com/ashureev/vidsync-labs/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo    store.Repository
	reg     *interaction.Registry
	cfg     *config.Config
	metrics http.Handler
	stream  http.HandlerFunc
}

// NewHandler creates a new Handler with common dependencies. metrics may be
// nil, in which case /api/metrics is not registered.
func NewHandler(repo store.Repository, reg *interaction.Registry, cfg *config.Config, metrics http.Handler) *Handler {
	return &Handler{
		repo:    repo,
		reg:     reg,
		cfg:     cfg,
		metrics: metrics,
	}
}

// WithStream mounts sse at GET /api/interaction/stream.
func (h *Handler) WithStream(sse http.HandlerFunc) *Handler {
	h.stream = sse
	return h
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// maxBodyBytes bounds request bodies. Reflection media arrives base64 encoded
// inside action payloads, so the limit is generous.
const maxBodyBytes = 32 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
