package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/vidsync-labs/internal/identity"
	"github.com/ashureev/vidsync-labs/internal/interaction"
	"github.com/ashureev/vidsync-labs/internal/orchestrator"
)

// resetLocks prevents concurrent resets of the same tab session.
var resetLocks sync.Map

// RegisterRoutes registers the interaction and account routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/reflections", h.ListReflections)

		r.Route("/interaction", func(r chi.Router) {
			r.Get("/context", h.GetContext)
			r.Post("/actions", h.DispatchAction)
			r.Put("/video", h.SetVideo)
			r.Delete("/", h.Reset)
			if h.stream != nil {
				r.Get("/stream", h.stream)
			}
		})
	})
}

func (h *Handler) session(r *http.Request) (*interaction.Session, error) {
	ctx := r.Context()
	return h.reg.Get(ctx, identity.UserIDFromContext(ctx), identity.SessionIDFromContext(ctx))
}

func (h *Handler) sessionOrError(w http.ResponseWriter, r *http.Request) (*interaction.Session, bool) {
	if identity.UserIDFromContext(r.Context()) == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	sess, err := h.session(r)
	if err != nil {
		if errors.Is(err, interaction.ErrClosed) {
			Error(w, http.StatusServiceUnavailable, "shutting down")
			return nil, false
		}
		slog.Error("Failed to open interaction session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to open session")
		return nil, false
	}
	return sess, true
}

// GetContext returns the current interaction context of the tab session.
func (h *Handler) GetContext(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionOrError(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, sess.Orchestrator.Context())
}

// DispatchAction enqueues a learner action. The command runs asynchronously;
// its effect arrives over the event stream.
func (h *Handler) DispatchAction(w http.ResponseWriter, r *http.Request) {
	var env orchestrator.Envelope
	if err := decodeBody(w, r, &env); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	action, err := env.Decode()
	if err != nil {
		if errors.Is(err, orchestrator.ErrUnknownAction) || errors.Is(err, orchestrator.ErrInvalidPayload) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		Error(w, http.StatusBadRequest, "invalid action")
		return
	}

	sess, ok := h.sessionOrError(w, r)
	if !ok {
		return
	}
	id, err := sess.Orchestrator.Dispatch(action)
	if err != nil {
		slog.Warn("Failed to dispatch action", "action", env.Type, "user_id", sess.UserID, "error", err)
		Error(w, http.StatusServiceUnavailable, "session closed")
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"command_id": id})
}

// SetVideo records which video the tab is playing.
func (h *Handler) SetVideo(w http.ResponseWriter, r *http.Request) {
	var meta orchestrator.VideoMeta
	if err := decodeBody(w, r, &meta); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if meta.VideoID == "" {
		Error(w, http.StatusBadRequest, "video_id is required")
		return
	}
	if meta.Duration < 0 {
		Error(w, http.StatusBadRequest, "duration must not be negative")
		return
	}

	sess, ok := h.sessionOrError(w, r)
	if !ok {
		return
	}
	if err := sess.SetVideo(meta); err != nil {
		Error(w, http.StatusServiceUnavailable, "session closed")
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Reset discards the tab session and its persisted snapshot.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := identity.UserIDFromContext(ctx)
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := identity.SessionIDFromContext(ctx)

	key := userID + "/" + sessionID
	lock, _ := resetLocks.LoadOrStore(key, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		slog.Warn("Reset already in progress", "user_id", userID, "session_id", sessionID)
		Error(w, http.StatusConflict, "reset_in_progress")
		return
	}
	defer func() {
		mutex.Unlock()
		resetLocks.Delete(key)
	}()

	h.reg.Remove(userID, sessionID)
	// The final snapshot is flushed by Remove, so the delete runs after it.
	if err := h.repo.DeleteInteraction(ctx, userID, sessionID); err != nil {
		slog.Error("Failed to delete interaction snapshot", "error", err, "user_id", userID, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to update database state")
		return
	}

	slog.Info("Interaction session reset", "user_id", userID, "session_id", sessionID)
	JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
