package interaction

import (
	"context"
	"log/slog"
	"time"
)

// DefaultReapInterval is how often the reaper sweeps.
const DefaultReapInterval = 5 * time.Minute

// ExpireCallback is called for each session the reaper shuts down.
type ExpireCallback func(s *Session)

// StartReaper runs a background goroutine that closes sessions idle for
// longer than ttl and deletes snapshots that have not changed within ttl.
func StartReaper(ctx context.Context, reg *Registry, interval, ttl time.Duration, onExpire ExpireCallback) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session reaper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				reap(ctx, reg, ttl, onExpire)
			case <-ctx.Done():
				slog.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func reap(ctx context.Context, reg *Registry, ttl time.Duration, onExpire ExpireCallback) {
	expired := reg.Expire(ttl)
	for _, s := range expired {
		slog.Info("Session reaper closed idle session",
			"user_id", s.UserID,
			"session_id", s.SessionID,
			"last_seen", s.LastSeen(),
		)
		if onExpire != nil {
			onExpire(s)
		}
	}

	if reg.cfg.Store == nil {
		return
	}
	deleted, err := reg.cfg.Store.CleanupExpiredInteractions(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Session reaper canceled during snapshot cleanup", "error", err)
			return
		}
		slog.Error("Session reaper failed to delete expired snapshots", "error", err)
		return
	}
	if deleted > 0 || len(expired) > 0 {
		slog.Info("Session reaper cleanup completed", "sessions", len(expired), "snapshots", deleted)
	}
}
