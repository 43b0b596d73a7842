package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/vidsync-labs/internal/identity"
)

// ServeSSE streams snapshots as Server-Sent Events. Event ids are context
// revisions; a client reconnecting with Last-Event-ID older than the
// current revision receives the latest snapshot immediately.
func (h *Handler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	sess, err := h.reg.Get(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("Failed to open interaction session", "error", err, "user_id", userID)
		http.Error(w, `{"error":"session unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil && parsed > 0 {
			lastEventID = parsed
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming not supported"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.opts.SSERetryDelay.Milliseconds())); err != nil {
		slog.Warn("Failed to write SSE retry header", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	slot := newSnapshotSlot(lastEventID)
	unsubscribe := sess.Orchestrator.Subscribe(slot.offer)
	defer unsubscribe()

	current := sess.Orchestrator.Context()
	// An id from the future belongs to a lost session; replay everything.
	if lastEventID > current.Revision {
		lastEventID = 0
		slot.reset()
	}
	slot.offer(current)

	slog.Info("SSE connection established",
		"user_id", userID,
		"session_id", sessionID,
		"revision", current.Revision,
		"reconnect", lastEventID > 0,
	)
	defer slog.Info("SSE connection closed", "user_id", userID, "session_id", sessionID)

	keepalive := time.NewTicker(h.opts.SSEKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Done():
			_ = writeSSE(w, "expired", `{"status":"session expired"}`)
			flusher.Flush()
			return
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				slog.Warn("Failed to write SSE keepalive ping", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
		case <-slot.notify:
			snap, ok := slot.take()
			if !ok {
				continue
			}
			data, err := json.Marshal(snap)
			if err != nil {
				slog.Error("Failed to marshal SSE snapshot", "error", err, "user_id", userID)
				continue
			}
			if err := writeSSEWithID(w, snap.Revision, "context", string(data)); err != nil {
				slog.Warn("Failed to write SSE snapshot", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
