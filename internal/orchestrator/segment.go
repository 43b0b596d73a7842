package orchestrator

import (
	"context"

	"github.com/ashureev/vidsync-labs/internal/queue"
)

// segmentPause pauses before reading the playhead. A failed pause is
// retried while attempts remain; the last attempt proceeds anyway.
func (o *Orchestrator) segmentPause(ctx context.Context, cmd *queue.Command) (bool, error) {
	err := o.pauseVideo(ctx)
	if err == nil {
		return true, nil
	}
	if cmd.RetriesLeft() {
		return false, err
	}
	o.log.Warn("video pause failed on final attempt, continuing", "command_type", cmd.Type, "error", err)
	return false, nil
}

func (o *Orchestrator) handleSetInPoint(ctx context.Context, cmd *queue.Command, a SetInPoint) error {
	paused, err := o.segmentPause(ctx, cmd)
	if err != nil {
		return err
	}
	at := o.videoTime(a.Time)

	o.update(func(c *SystemContext) {
		s := &c.Segment
		s.InPoint = &at
		if s.OutPoint != nil && *s.OutPoint <= at {
			s.OutPoint = nil
		}
		s.updateSegmentFlags()
		markPaused(c, paused, at)
	})
	return nil
}

func (o *Orchestrator) handleSetOutPoint(ctx context.Context, cmd *queue.Command, a SetOutPoint) error {
	paused, err := o.segmentPause(ctx, cmd)
	if err != nil {
		return err
	}
	at := o.videoTime(a.Time)

	o.update(func(c *SystemContext) {
		s := &c.Segment
		s.OutPoint = &at
		if s.InPoint == nil {
			zero := 0.0
			s.InPoint = &zero
		}
		if *s.InPoint >= at {
			s.InPoint = nil
		}
		s.updateSegmentFlags()
		markPaused(c, paused, at)
	})
	return nil
}

func markPaused(c *SystemContext, paused bool, at float64) {
	c.Video.CurrentTime = at
	if !paused {
		return
	}
	c.Video.IsPlaying = false
	if c.State == StateVideoPlaying {
		c.State = StateVideoPaused
	}
}

func (o *Orchestrator) handleClearSegment() error {
	o.update(func(c *SystemContext) {
		c.Segment = SegmentState{}
	})
	return nil
}

func (o *Orchestrator) handleSendSegmentToChat() error {
	if !o.state.Segment.IsComplete {
		o.log.Debug("ignoring send to chat for incomplete segment")
		return nil
	}
	o.update(func(c *SystemContext) {
		c.Segment.SentToChat = true
	})
	return nil
}
