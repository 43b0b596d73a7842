package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/vidsync-labs/internal/agent"
	"github.com/ashureev/vidsync-labs/internal/reflection"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
	clock   *fakeClock
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f, clock: c}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

// Advance moves time forward and runs every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeVideo struct {
	mu            sync.Mutex
	time          float64
	pauseFailures int
	pauses        int
	plays         int
}

func (v *fakeVideo) Pause(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pauses++
	if v.pauseFailures != 0 {
		if v.pauseFailures > 0 {
			v.pauseFailures--
		}
		return errors.New("pause rejected")
	}
	return nil
}

func (v *fakeVideo) Play() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.plays++
}

func (v *fakeVideo) CurrentTime() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.time
}

func (v *fakeVideo) setTime(t float64) {
	v.mu.Lock()
	v.time = t
	v.mu.Unlock()
}

func (v *fakeVideo) counts() (pauses, plays int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pauses, v.plays
}

type fakeSaver struct {
	mu    sync.Mutex
	err   error
	saved []reflection.Submission
}

func (s *fakeSaver) Save(_ context.Context, sub reflection.Submission) (reflection.Saved, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return reflection.Saved{}, s.err
	}
	s.saved = append(s.saved, sub)
	return reflection.Saved{ID: "refl-1", MediaURL: "/media/u/refl-1.webm", SavedAt: time.Unix(1700000000, 0)}, nil
}

func threeQuestions() []agent.QuizQuestion {
	return []agent.QuizQuestion{
		{ID: "q1", Question: "First?", Options: []string{"a", "b"}, CorrectAnswer: 0},
		{ID: "q2", Question: "Second?", Options: []string{"a", "b"}, CorrectAnswer: 0},
		{ID: "q3", Question: "Third?", Options: []string{"a", "b", "c"}, CorrectAnswer: 0, Explanation: "Because."},
	}
}

// stubGenerator answers every agent type deterministically.
func stubGenerator() agent.Generator {
	return agent.GeneratorFunc(func(_ context.Context, req agent.Request) (agent.Result, error) {
		if req.AgentType == agent.TypeQuiz {
			return agent.Result{Questions: threeQuestions()}, nil
		}
		return agent.Result{Text: "generated " + string(req.AgentType)}, nil
	})
}

type harness struct {
	t     *testing.T
	o     *Orchestrator
	clock *fakeClock
	video *fakeVideo
	saver *fakeSaver
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{t: t, clock: newFakeClock(), video: &fakeVideo{}, saver: &fakeSaver{}}
	cfg := Config{
		UserID:      "user-1",
		SessionID:   "tab-1",
		Generator:   stubGenerator(),
		Reflections: h.saver,
		Clock:       h.clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.o = New(cfg)
	t.Cleanup(h.o.Close)
	if err := h.o.SetVideo(h.video, VideoMeta{VideoID: "vid-1", CourseID: "course-1", Duration: 600}); err != nil {
		t.Fatalf("SetVideo failed: %v", err)
	}
	h.wait()
	return h
}

func (h *harness) wait() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.o.WaitIdle(ctx); err != nil {
		h.t.Fatalf("orchestrator did not become idle: %v", err)
	}
}

// do dispatches actions in order and waits for all of them.
func (h *harness) do(actions ...Action) SystemContext {
	h.t.Helper()
	for _, a := range actions {
		if _, err := h.o.Dispatch(a); err != nil {
			h.t.Fatalf("Dispatch(%s) failed: %v", a.Type(), err)
		}
	}
	h.wait()
	return h.o.Context()
}

// tick advances the fake clock one second and lets the tick run.
func (h *harness) tick() SystemContext {
	h.t.Helper()
	h.clock.Advance(time.Second)
	h.wait()
	return h.o.Context()
}

func at(seconds float64) *float64 { return &seconds }

func messagesOf(c SystemContext, t MessageType) []Message {
	var out []Message
	for _, m := range c.Messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// shape strips ids and timestamps so two runs can be compared.
type messageShape struct {
	Type      MessageType
	State     MessageState
	Text      string
	AgentType agent.Type
}

func shapes(c SystemContext) []messageShape {
	out := make([]messageShape, len(c.Messages))
	for i, m := range c.Messages {
		out[i] = messageShape{Type: m.Type, State: m.State, Text: m.Message, AgentType: m.AgentType}
	}
	return out
}
