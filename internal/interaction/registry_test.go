package interaction

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/vidsync-labs/internal/agent"
	"github.com/ashureev/vidsync-labs/internal/domain"
	"github.com/ashureev/vidsync-labs/internal/orchestrator"
	"github.com/ashureev/vidsync-labs/internal/store"
)

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func template() orchestrator.Config {
	return orchestrator.Config{
		Generator: agent.GeneratorFunc(func(context.Context, agent.Request) (agent.Result, error) {
			return agent.Result{Text: "a hint"}, nil
		}),
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func waitIdle(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Orchestrator.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle failed: %v", err)
	}
}

func TestGetReturnsSameSessionPerTab(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(Config{Template: template()})
	t.Cleanup(reg.Close)
	ctx := context.Background()

	a, err := reg.Get(ctx, "u1", "tab-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	b, _ := reg.Get(ctx, "u1", "tab-1")
	c, _ := reg.Get(ctx, "u1", "tab-2")
	if a != b {
		t.Fatal("expected the same session for the same tab")
	}
	if a == c {
		t.Fatal("expected a separate session per tab")
	}
	if reg.Len() != 2 {
		t.Fatalf("Len = %d, want 2", reg.Len())
	}
	if reg.Lookup("u1", "tab-3") != nil {
		t.Fatal("Lookup must not create sessions")
	}
}

func TestSessionSnapshotSurvivesRestart(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	ctx := context.Background()

	reg := NewRegistry(Config{Store: repo, Template: template()})
	s, err := reg.Get(ctx, "u1", "tab-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := s.SetVideo(orchestrator.VideoMeta{VideoID: "vid-9", CourseID: "c1", Duration: 300}); err != nil {
		t.Fatalf("SetVideo failed: %v", err)
	}
	if _, err := s.Orchestrator.Dispatch(orchestrator.ManualPause{Time: ptr(42)}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	waitIdle(t, s)
	reg.Close()

	snap, err := repo.GetInteraction(ctx, "u1", "tab-1")
	if err != nil || snap == nil {
		t.Fatalf("expected persisted snapshot, got %+v, %v", snap, err)
	}
	if snap.VideoID != "vid-9" {
		t.Fatalf("snapshot video = %q", snap.VideoID)
	}

	reg2 := NewRegistry(Config{Store: repo, Template: template()})
	t.Cleanup(reg2.Close)
	s2, err := reg2.Get(ctx, "u1", "tab-1")
	if err != nil {
		t.Fatalf("Get after restart failed: %v", err)
	}
	waitIdle(t, s2)

	c := s2.Orchestrator.Context()
	if c.Video.VideoID != "vid-9" || c.Video.Duration != 300 {
		t.Fatalf("video not restored: %+v", c.Video)
	}
	if len(c.Messages) != 2 || c.Messages[0].Message != "Paused at 0:42" {
		t.Fatalf("messages not restored: %+v", c.Messages)
	}
	if c.Agent.CurrentUnactivatedID != c.Messages[1].ID {
		t.Fatal("restored prompt must still be acceptable")
	}
}

func TestUnreadableSnapshotStartsFresh(t *testing.T) {
	t.Parallel()
	st := &fakeStore{snap: &domain.InteractionSnapshot{UserID: "u1", SessionID: "tab-1", ContextJSON: "{"}}
	reg := NewRegistry(Config{Store: st, Template: template()})
	t.Cleanup(reg.Close)

	s, err := reg.Get(context.Background(), "u1", "tab-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	waitIdle(t, s)
	c := s.Orchestrator.Context()
	if c.State != orchestrator.StateVideoPaused || len(c.Messages) != 0 {
		t.Fatalf("expected initial context, got %+v", c)
	}
}

func TestExpireClosesIdleSessions(t *testing.T) {
	t.Parallel()
	clock := &testClock{now: time.Unix(1700000000, 0)}
	reg := NewRegistry(Config{Template: template(), Now: clock.Now})
	t.Cleanup(reg.Close)
	ctx := context.Background()

	idle, _ := reg.Get(ctx, "u1", "tab-1")
	clock.advance(50 * time.Minute)
	active, _ := reg.Get(ctx, "u2", "tab-1")
	clock.advance(20 * time.Minute)

	expired := reg.Expire(time.Hour)
	if len(expired) != 1 || expired[0] != idle {
		t.Fatalf("expected only the idle session to expire, got %d", len(expired))
	}
	select {
	case <-idle.Done():
	default:
		t.Fatal("expired session must be closed")
	}
	if reg.Lookup("u2", "tab-1") != active {
		t.Fatal("active session must survive")
	}
	if _, err := idle.Orchestrator.Dispatch(orchestrator.Play{}); err == nil {
		t.Fatal("closed orchestrator must reject dispatch")
	}
}

// slowStore blocks snapshot reads for one tab until release is closed.
type slowStore struct {
	fakeStore
	slowTab string
	reading chan struct{}
	release chan struct{}
}

func (s *slowStore) GetInteraction(ctx context.Context, userID, sessionID string) (*domain.InteractionSnapshot, error) {
	if sessionID == s.slowTab {
		s.reading <- struct{}{}
		<-s.release
	}
	return s.fakeStore.GetInteraction(ctx, userID, sessionID)
}

func TestGetDoesNotSerializeSnapshotReads(t *testing.T) {
	t.Parallel()
	st := &slowStore{slowTab: "slow", reading: make(chan struct{}, 1), release: make(chan struct{})}
	reg := NewRegistry(Config{Store: st, Template: template()})
	t.Cleanup(reg.Close)
	ctx := context.Background()

	slowDone := make(chan *Session, 1)
	go func() {
		s, err := reg.Get(ctx, "u1", "slow")
		if err != nil {
			t.Errorf("Get(slow) failed: %v", err)
		}
		slowDone <- s
	}()
	<-st.reading

	fastDone := make(chan error, 1)
	go func() {
		_, err := reg.Get(ctx, "u1", "fast")
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		if err != nil {
			t.Fatalf("Get(fast) failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		close(st.release)
		t.Fatal("Get for another tab waited on a pending snapshot read")
	}

	close(st.release)
	s := <-slowDone
	if s == nil || reg.Lookup("u1", "slow") != s {
		t.Fatal("slow session was not registered")
	}
	if reg.Len() != 2 {
		t.Fatalf("Len = %d, want 2", reg.Len())
	}
}

func TestGetAfterCloseFails(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(Config{Template: template()})
	reg.Close()
	if _, err := reg.Get(context.Background(), "u1", "tab-1"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestReapDeletesExpiredSnapshots(t *testing.T) {
	t.Parallel()
	st := &fakeStore{cleaned: 2}
	clock := &testClock{now: time.Unix(1700000000, 0)}
	reg := NewRegistry(Config{Store: st, Template: template(), Now: clock.Now})
	t.Cleanup(reg.Close)

	if _, err := reg.Get(context.Background(), "u1", "tab-1"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	clock.advance(2 * time.Hour)

	var got []*Session
	reap(context.Background(), reg, time.Hour, func(s *Session) { got = append(got, s) })
	if len(got) != 1 || got[0].UserID != "u1" {
		t.Fatalf("expected callback for expired session, got %d", len(got))
	}
	if st.cleanupTTL != time.Hour {
		t.Fatalf("cleanup ttl = %v", st.cleanupTTL)
	}
}

func ptr(f float64) *float64 { return &f }
