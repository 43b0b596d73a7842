package interaction

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/vidsync-labs/internal/domain"
	"github.com/ashureev/vidsync-labs/internal/orchestrator"
)

const persistTimeout = 5 * time.Second

// persister writes snapshots in the background. Only the latest pending
// snapshot is kept, so a slow store never blocks the orchestrator.
type persister struct {
	store     Store
	userID    string
	sessionID string
	logger    *slog.Logger

	latest   chan orchestrator.SystemContext
	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newPersister(store Store, userID, sessionID string, logger *slog.Logger) *persister {
	p := &persister{
		store:     store,
		userID:    userID,
		sessionID: sessionID,
		logger:    logger,
		latest:    make(chan orchestrator.SystemContext, 1),
		stop:      make(chan struct{}),
	}
	if store == nil {
		return p
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Offer queues c, replacing any snapshot not yet written. It never blocks.
func (p *persister) Offer(c orchestrator.SystemContext) {
	if p.store == nil {
		return
	}
	select {
	case p.latest <- c:
		return
	default:
	}

	// Full: drop the stale snapshot and retry once.
	select {
	case <-p.latest:
	default:
	}
	select {
	case p.latest <- c:
	default:
		p.logger.Debug("Snapshot superseded before queueing", "user_id", p.userID, "session_id", p.sessionID)
	}
}

func (p *persister) run() {
	defer p.wg.Done()
	for {
		select {
		case c := <-p.latest:
			p.write(c)
		case <-p.stop:
			select {
			case c := <-p.latest:
				p.write(c)
			default:
			}
			return
		}
	}
}

func (p *persister) write(c orchestrator.SystemContext) {
	data, err := json.Marshal(c)
	if err != nil {
		p.logger.Error("Failed to encode interaction snapshot", "user_id", p.userID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	start := time.Now()
	err = p.store.UpsertInteraction(ctx, &domain.InteractionSnapshot{
		UserID:      p.userID,
		SessionID:   p.sessionID,
		VideoID:     c.Video.VideoID,
		ContextJSON: string(data),
	})
	if err != nil {
		p.logger.Warn("Failed to persist interaction snapshot",
			"user_id", p.userID,
			"session_id", p.sessionID,
			"error", err,
		)
		return
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		p.logger.Warn("Slow snapshot write", "user_id", p.userID, "duration_ms", d.Milliseconds())
	}
}

// Close writes any pending snapshot and stops the writer.
func (p *persister) Close() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()
}
