package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashureev/vidsync-labs/internal/orchestrator"
	"github.com/ashureev/vidsync-labs/internal/reflection"
)

// scriptClock fires timers immediately and advances virtual time, so
// countdowns complete without waiting.
type scriptClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *scriptClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *scriptClock) AfterFunc(d time.Duration, f func()) orchestrator.Timer {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	f()
	return firedTimer{}
}

type firedTimer struct{}

func (firedTimer) Stop() bool { return false }

// scriptedVideo is a player driven by seek steps.
type scriptedVideo struct {
	mu            sync.Mutex
	time          float64
	pauseFailures int
}

func (v *scriptedVideo) Pause(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pauseFailures > 0 {
		v.pauseFailures--
		return errors.New("scripted pause failure")
	}
	return nil
}

func (v *scriptedVideo) Play() {}

func (v *scriptedVideo) CurrentTime() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.time
}

func (v *scriptedVideo) seek(t float64) {
	v.mu.Lock()
	v.time = t
	v.mu.Unlock()
}

func (v *scriptedVideo) failPauses(n int) {
	v.mu.Lock()
	v.pauseFailures = n
	v.mu.Unlock()
}

// discardSaver accepts every reflection without storing it.
type discardSaver struct{}

func (discardSaver) Save(_ context.Context, sub reflection.Submission) (reflection.Saved, error) {
	if err := reflection.Validate(sub); err != nil {
		return reflection.Saved{}, err
	}
	return reflection.Saved{ID: "replay-" + sub.Type}, nil
}
