package orchestrator

import (
	"errors"
	"time"

	"github.com/ashureev/vidsync-labs/internal/agent"
	"github.com/ashureev/vidsync-labs/internal/queue"
)

// countdown is the resume timer started after a quiz or reflection.
type countdown struct {
	seq       int
	kind      agent.Type
	remaining int
	messageID string
	timer     Timer
}

// countdownTick is the internal command fired once per second.
type countdownTick struct {
	seq int
}

// startCountdown appends the countdown message and schedules the first
// tick. It runs inside an update on the worker.
func (o *Orchestrator) startCountdown(c *SystemContext, kind agent.Type, at float64) {
	if prev := o.countdown; prev != nil {
		if prev.timer != nil {
			prev.timer.Stop()
		}
		c.removeMessages(func(m Message) bool { return m.ID == prev.messageID })
	}

	o.countdownSeq++
	n := o.cfg.CountdownSeconds
	m := o.newMessage(MessageSystem, MessagePermanent, countdownText(n), at)
	m.Countdown = n
	c.Messages = append(c.Messages, m)

	cd := &countdown{seq: o.countdownSeq, kind: kind, remaining: n, messageID: m.ID}
	o.countdown = cd
	o.scheduleTick(cd)
}

func (o *Orchestrator) scheduleTick(cd *countdown) {
	seq := cd.seq
	cd.timer = o.clock.AfterFunc(time.Second, func() {
		err := o.q.Enqueue(queue.NewCommand(cmdCountdownTick, countdownTick{seq: seq}, 1))
		if err != nil && !errors.Is(err, queue.ErrQueueClosed) {
			o.log.Warn("failed to enqueue countdown tick", "error", err)
		}
	})
}

func (o *Orchestrator) handleCountdownTick(t countdownTick) error {
	cd := o.countdown
	if cd == nil || cd.seq != t.seq {
		return nil
	}

	cd.remaining--
	if cd.remaining > 0 {
		o.update(func(c *SystemContext) {
			if i := c.findMessage(cd.messageID); i >= 0 {
				c.Messages[i].Message = countdownText(cd.remaining)
				c.Messages[i].Countdown = cd.remaining
			}
		})
		o.scheduleTick(cd)
		return nil
	}

	o.countdown = nil
	o.update(func(c *SystemContext) {
		c.removeMessages(func(m Message) bool { return m.ID == cd.messageID })
		c.Agent.ActiveType = ""
		c.State = StateVideoPlaying
		c.Video.IsPlaying = true
	})
	if vc := o.controller(); vc != nil {
		vc.Play()
	}
	o.cfg.Metrics.countdownDone(string(cd.kind))
	o.log.Info("countdown finished, playback resumed", "agent_type", cd.kind)
	return nil
}
