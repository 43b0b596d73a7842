// Package stream pushes interaction snapshots and video directives to the
// browser over WebSocket or Server-Sent Events.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/vidsync-labs/internal/identity"
	"github.com/ashureev/vidsync-labs/internal/interaction"
	"github.com/ashureev/vidsync-labs/internal/orchestrator"
	"github.com/ashureev/vidsync-labs/internal/video"
)

const (
	writeTimeout     = 10 * time.Second
	directiveTimeout = 2 * time.Second
	frameBuffer      = 16
)

var errConnClosed = errors.New("stream connection closed")

// Options configures a Handler.
type Options struct {
	AllowedOrigin string
	IsDev         bool
	// SSERetryDelay is the reconnect delay advertised to SSE clients.
	SSERetryDelay time.Duration
	// SSEKeepalive is the interval between SSE ping events.
	SSEKeepalive time.Duration
}

// Handler serves the interaction streams.
type Handler struct {
	reg  *interaction.Registry
	opts Options
}

// NewHandler creates a stream handler backed by reg.
func NewHandler(reg *interaction.Registry, opts Options) *Handler {
	if opts.SSERetryDelay <= 0 {
		opts.SSERetryDelay = 5 * time.Second
	}
	if opts.SSEKeepalive <= 0 {
		opts.SSEKeepalive = 10 * time.Second
	}
	return &Handler{reg: reg, opts: opts}
}

// outFrame is a server to client message.
type outFrame struct {
	Type      string                      `json:"type"`
	Context   *orchestrator.SystemContext `json:"context,omitempty"`
	Command   string                      `json:"command,omitempty"`
	CommandID string                      `json:"command_id,omitempty"`
	Error     string                      `json:"error,omitempty"`
}

// inFrame is a client to server message.
type inFrame struct {
	Type    string                 `json:"type"`
	Action  *orchestrator.Envelope `json:"action,omitempty"`
	Time    *float64               `json:"time,omitempty"`
	Playing bool                   `json:"playing,omitempty"`
}

// wsConn is the outbound half of one WebSocket client.
type wsConn struct {
	ws        *websocket.Conn
	userID    string
	snapshots *snapshotSlot
	frames    chan outFrame
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// send queues a reply frame without blocking the read loop.
func (c *wsConn) send(f outFrame) {
	select {
	case c.frames <- f:
	case <-c.closed:
	default:
		slog.Warn("WebSocket frame buffer full, dropping frame", "user_id", c.userID, "type", f.Type)
	}
}

// directive is the video sink for this connection.
func (c *wsConn) directive(ctx context.Context, d video.Directive) error {
	timer := time.NewTimer(directiveTimeout)
	defer timer.Stop()
	select {
	case c.frames <- outFrame{Type: "video", Command: string(d)}:
		return nil
	case <-c.closed:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("video directive timed out")
	}
}

// ServeWS upgrades to a WebSocket carrying snapshots, directives and
// inbound actions for the caller's tab session.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sess, err := h.reg.Get(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("Failed to open interaction session", "error", err, "user_id", userID)
		http.Error(w, `{"error":"session unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{
		ws:        ws,
		userID:    userID,
		snapshots: newSnapshotSlot(0),
		frames:    make(chan outFrame, frameBuffer),
		closed:    make(chan struct{}),
	}
	defer c.close()

	unsubscribe := sess.Orchestrator.Subscribe(c.snapshots.offer)
	defer unsubscribe()
	detach := sess.Video.Attach(c.directive)
	defer detach()
	c.snapshots.offer(sess.Orchestrator.Context())

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, ws, sess, c)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		defer c.close()
		writeLoop(ctx, c, sess.Done())
	}()

	wg.Wait()
	slog.Info("WebSocket session ended", "user_id", userID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sess *interaction.Session, c *wsConn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed", "user_id", sess.UserID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", sess.UserID)
			}
			return
		}
		sess.Touch(time.Now())

		var msg inFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(outFrame{Type: "error", Error: "malformed message"})
			continue
		}

		switch msg.Type {
		case "action":
			if msg.Action == nil {
				c.send(outFrame{Type: "error", Error: "action is required"})
				continue
			}
			a, err := msg.Action.Decode()
			if err != nil {
				c.send(outFrame{Type: "error", Error: err.Error()})
				continue
			}
			id, err := sess.Orchestrator.Dispatch(a)
			if err != nil {
				c.send(outFrame{Type: "error", Error: err.Error()})
				continue
			}
			c.send(outFrame{Type: "ack", CommandID: id})
		case "time":
			if msg.Time != nil {
				sess.Video.ReportTime(*msg.Time, msg.Playing)
			}
		case "ping":
			c.send(outFrame{Type: "pong"})
		default:
			c.send(outFrame{Type: "error", Error: "unknown message type"})
		}
	}
}

func writeLoop(ctx context.Context, c *wsConn, sessionDone <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionDone:
			_ = c.ws.Close(websocket.StatusGoingAway, "session expired")
			return
		case f := <-c.frames:
			if err := writeFrame(ctx, c.ws, f); err != nil {
				slog.Debug("WebSocket write error", "error", err, "user_id", c.userID)
				return
			}
		case <-c.snapshots.notify:
			snap, ok := c.snapshots.take()
			if !ok {
				continue
			}
			if err := writeFrame(ctx, c.ws, outFrame{Type: "context", Context: &snap}); err != nil {
				slog.Debug("WebSocket write error", "error", err, "user_id", c.userID)
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f outFrame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, f)
}
