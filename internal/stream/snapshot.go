package stream

import (
	"sync"

	"github.com/ashureev/vidsync-labs/internal/orchestrator"
)

// snapshotSlot holds the newest context not yet sent to one client.
// Offers older than what is pending or already sent are discarded, so
// producers racing on different goroutines never regress the client.
type snapshotSlot struct {
	mu      sync.Mutex
	pending *orchestrator.SystemContext
	sent    int64
	notify  chan struct{}
}

func newSnapshotSlot(sent int64) *snapshotSlot {
	return &snapshotSlot{sent: sent, notify: make(chan struct{}, 1)}
}

func (s *snapshotSlot) offer(c orchestrator.SystemContext) {
	s.mu.Lock()
	if c.Revision <= s.sent || (s.pending != nil && c.Revision <= s.pending.Revision) {
		s.mu.Unlock()
		return
	}
	s.pending = &c
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *snapshotSlot) take() (orchestrator.SystemContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return orchestrator.SystemContext{}, false
	}
	c := *s.pending
	s.pending = nil
	s.sent = c.Revision
	return c, true
}

// reset forgets what was sent so the next offer always goes out.
func (s *snapshotSlot) reset() {
	s.mu.Lock()
	s.sent = 0
	s.mu.Unlock()
}
