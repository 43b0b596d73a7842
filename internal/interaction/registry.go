// Package interaction keeps one orchestrator per learner tab session,
// restores it from the last persisted snapshot and expires idle sessions.
package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/vidsync-labs/internal/domain"
	"github.com/ashureev/vidsync-labs/internal/orchestrator"
	"github.com/ashureev/vidsync-labs/internal/video"
)

// ErrClosed is returned by Get after the registry has been closed.
var ErrClosed = errors.New("interaction registry closed")

// Store persists interaction snapshots.
type Store interface {
	GetInteraction(ctx context.Context, userID, sessionID string) (*domain.InteractionSnapshot, error)
	UpsertInteraction(ctx context.Context, snap *domain.InteractionSnapshot) error
	CleanupExpiredInteractions(ctx context.Context, ttl time.Duration) (int64, error)
}

// Config configures a Registry.
type Config struct {
	Store Store
	// Template carries the collaborators shared by every orchestrator.
	// UserID, SessionID and Initial are filled in per session.
	Template orchestrator.Config
	Logger   *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Session is one live interaction.
type Session struct {
	UserID       string
	SessionID    string
	Orchestrator *orchestrator.Orchestrator
	Video        *video.RemoteController

	persist     *persister
	unsubscribe func()
	lastSeen    atomic.Int64
	done        chan struct{}
	closeOnce   sync.Once
}

// Touch records activity on the session.
func (s *Session) Touch(t time.Time) {
	s.lastSeen.Store(t.UnixNano())
}

// LastSeen returns the time of the last recorded activity.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Done is closed once the session has been shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SetVideo records new video metadata, keeping the session's controller.
func (s *Session) SetVideo(meta orchestrator.VideoMeta) error {
	return s.Orchestrator.SetVideo(s.Video, meta)
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.Orchestrator.Close()
		s.unsubscribe()
		s.persist.Close()
		close(s.done)
	})
}

type sessionKey struct {
	userID    string
	sessionID string
}

// Registry owns the live sessions.
type Registry struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*Session
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[sessionKey]*Session),
	}
}

// Get returns the live session, creating and restoring it on first use.
func (r *Registry) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	key := sessionKey{userID: userID, sessionID: sessionID}

	if s, err := r.existing(key); s != nil || err != nil {
		return s, err
	}

	// The snapshot read stays outside the lock; a concurrent Get for the
	// same key may win, in which case its session is returned.
	initial := r.restore(ctx, userID, sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, err := r.existingLocked(key); s != nil || err != nil {
		return s, err
	}

	ocfg := r.cfg.Template
	ocfg.UserID = userID
	ocfg.SessionID = sessionID
	ocfg.Initial = initial
	o := orchestrator.New(ocfg)

	s := &Session{
		UserID:       userID,
		SessionID:    sessionID,
		Orchestrator: o,
		Video:        video.NewRemoteController(),
		persist:      newPersister(r.cfg.Store, userID, sessionID, r.log),
		done:         make(chan struct{}),
	}
	s.unsubscribe = o.Subscribe(s.persist.Offer)
	s.Touch(r.cfg.Now())

	var meta orchestrator.VideoMeta
	if initial != nil {
		meta = orchestrator.VideoMeta{
			VideoID:  initial.Video.VideoID,
			CourseID: initial.Video.CourseID,
			Duration: initial.Video.Duration,
		}
	}
	if err := s.SetVideo(meta); err != nil {
		s.close()
		return nil, fmt.Errorf("attach video controller: %w", err)
	}

	r.sessions[key] = s
	r.log.Info("Interaction session started",
		"user_id", userID,
		"session_id", sessionID,
		"restored", initial != nil,
	)
	return s, nil
}

func (r *Registry) existing(key sessionKey) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.existingLocked(key)
}

func (r *Registry) existingLocked(key sessionKey) (*Session, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if s, ok := r.sessions[key]; ok {
		s.Touch(r.cfg.Now())
		return s, nil
	}
	return nil, nil
}

// restore loads the last snapshot. Unreadable snapshots start fresh.
func (r *Registry) restore(ctx context.Context, userID, sessionID string) *orchestrator.SystemContext {
	if r.cfg.Store == nil {
		return nil
	}
	snap, err := r.cfg.Store.GetInteraction(ctx, userID, sessionID)
	if err != nil {
		r.log.Warn("Failed to load interaction snapshot", "user_id", userID, "session_id", sessionID, "error", err)
		return nil
	}
	if snap == nil || snap.ContextJSON == "" {
		return nil
	}
	var c orchestrator.SystemContext
	if err := json.Unmarshal([]byte(snap.ContextJSON), &c); err != nil {
		r.log.Warn("Discarding unreadable interaction snapshot", "user_id", userID, "session_id", sessionID, "error", err)
		return nil
	}
	return &c
}

// Lookup returns the live session without creating one.
func (r *Registry) Lookup(userID, sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionKey{userID: userID, sessionID: sessionID}]
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Remove shuts a session down. Its snapshot stays in the store.
func (r *Registry) Remove(userID, sessionID string) {
	key := sessionKey{userID: userID, sessionID: sessionID}
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if ok {
		s.close()
	}
}

// Expire shuts down every session idle for longer than ttl and returns them.
func (r *Registry) Expire(ttl time.Duration) []*Session {
	cutoff := r.cfg.Now().Add(-ttl)

	r.mu.Lock()
	var expired []*Session
	for key, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.close()
	}
	return expired
}

// Close shuts every session down and flushes their snapshots.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[sessionKey]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	r.log.Info("Interaction registry closed", "sessions", len(sessions))
}
