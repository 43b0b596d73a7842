// Package video defines the playback boundary the orchestrator drives.
package video

import (
	"context"
	"errors"
	"sync"
)

// ErrNoClient is returned when a directive has no attached player to reach.
var ErrNoClient = errors.New("no video client attached")

// Controller is the minimal contract of a video surface.
type Controller interface {
	// Pause requests a pause. Failures are best-effort for most callers.
	Pause(ctx context.Context) error
	// Play resumes playback.
	Play()
	// CurrentTime returns the playhead position in seconds.
	CurrentTime() float64
}

// Directive is a playback instruction forwarded to the browser player.
type Directive string

const (
	// DirectivePause asks the player to pause.
	DirectivePause Directive = "pause"
	// DirectivePlay asks the player to resume.
	DirectivePlay Directive = "play"
)

// Sink delivers a directive to an attached player.
type Sink func(ctx context.Context, d Directive) error

// RemoteController tracks a player that lives on the client. The playhead
// is whatever the client last reported; pause and play are forwarded to the
// attached sink.
type RemoteController struct {
	mu      sync.RWMutex
	time    float64
	playing bool
	sink    Sink
	gen     uint64
}

// NewRemoteController returns a controller with no attached client.
func NewRemoteController() *RemoteController {
	return &RemoteController{}
}

// Attach installs the sink used for directives and returns a detach func.
// Detaching only clears the sink if it is still the one installed.
func (c *RemoteController) Attach(sink Sink) func() {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.sink = sink
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen == gen {
			c.sink = nil
		}
	}
}

// ReportTime records a playhead position reported by the client.
func (c *RemoteController) ReportTime(seconds float64, playing bool) {
	if seconds < 0 {
		seconds = 0
	}
	c.mu.Lock()
	c.time = seconds
	c.playing = playing
	c.mu.Unlock()
}

// Playing reports the last known playback state.
func (c *RemoteController) Playing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playing
}

// Pause implements Controller.
func (c *RemoteController) Pause(ctx context.Context) error {
	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink == nil {
		return ErrNoClient
	}
	if err := sink(ctx, DirectivePause); err != nil {
		return err
	}
	c.mu.Lock()
	c.playing = false
	c.mu.Unlock()
	return nil
}

// Play implements Controller. Play has no failure path; an unreachable
// client simply keeps its own state.
func (c *RemoteController) Play() {
	c.mu.Lock()
	sink := c.sink
	c.playing = true
	c.mu.Unlock()
	if sink != nil {
		_ = sink(context.Background(), DirectivePlay)
	}
}

// CurrentTime implements Controller.
func (c *RemoteController) CurrentTime() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.time
}
