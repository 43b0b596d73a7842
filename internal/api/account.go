package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/vidsync-labs/internal/domain"
	"github.com/ashureev/vidsync-labs/internal/identity"
)

const (
	defaultReflectionLimit = 50
	maxReflectionLimit     = 200
)

// GetMe returns the current user's information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     user.UserID,
		"username":    user.Username,
		"session_id":  identity.SessionIDFromContext(r.Context()),
		"session_ttl": int64(h.cfg.SessionTTL.Seconds()),
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"ai_enabled":          h.cfg.AIEnabled(),
		"countdown_seconds":   h.cfg.Interaction.CountdownSeconds,
		"quiz_question_count": h.cfg.Quiz.QuestionCount,
		"reflection_types": []string{
			domain.ReflectionText, domain.ReflectionVoice, domain.ReflectionScreen, domain.ReflectionLoom,
		},
	})
}

// ListReflections returns the caller's saved reflections, newest first.
// Optional query parameters: video_id, limit.
func (h *Handler) ListReflections(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := defaultReflectionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxReflectionLimit)
	}

	items, err := h.repo.ListReflections(r.Context(), userID, r.URL.Query().Get("video_id"), limit)
	if err != nil {
		slog.Error("Failed to list reflections", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list reflections")
		return
	}
	if items == nil {
		items = []*domain.Reflection{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"reflections": items})
}

// Health reports database connectivity and the number of live sessions.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": "database unreachable"})
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": h.reg.Len(),
	})
}

// RegisterOps registers health and metrics routes. They sit outside the
// identity middleware.
func (h *Handler) RegisterOps(r chi.Router) {
	r.Get("/api/health", h.Health)
	if h.metrics != nil {
		r.Handle("/api/metrics", h.metrics)
	}
}
