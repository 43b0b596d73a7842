package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashureev/vidsync-labs/internal/agent"
)

func (o *Orchestrator) handleShowAgent(ctx context.Context, a ShowAgent) error {
	if !a.AgentType.Valid() {
		return fmt.Errorf("show agent: unknown agent type %q", a.AgentType)
	}
	if active := o.state.Agent.ActiveType; active != "" {
		o.log.Debug("agent already active, ignoring show request", "active_type", active, "agent_type", a.AgentType)
		return nil
	}

	o.pauseBestEffort(ctx, "show agent")
	at := o.videoTime(a.Time)
	o.update(func(c *SystemContext) {
		o.showPrompt(c, a.AgentType, at)
	})
	return nil
}

func (o *Orchestrator) handleManualPause(a ManualPause) error {
	at := o.videoTime(a.Time)

	// An agent mid-flow keeps the screen; only reflect the paused player.
	if o.state.Agent.ActiveType != "" {
		o.update(func(c *SystemContext) {
			c.State = StateVideoPaused
			c.Video.IsPlaying = false
			c.Video.CurrentTime = at
		})
		return nil
	}

	o.update(func(c *SystemContext) {
		o.showPrompt(c, agent.TypeHint, at)
	})
	return nil
}

// showPrompt replaces provisional content with a "paused at" system
// message and an unactivated prompt for t.
func (o *Orchestrator) showPrompt(c *SystemContext, t agent.Type, at float64) {
	c.purgeTransient()

	sys := o.newMessage(MessageSystem, MessageUnactivated, pausedAtText(at), at)
	prompt := o.newMessage(MessageAgentPrompt, MessageUnactivated, promptText(t), at)
	prompt.AgentType = t
	prompt.LinkedID = sys.ID

	c.Messages = append(c.Messages, sys, prompt)
	c.State = StateAgentShowingUnactivated
	c.Video.IsPlaying = false
	c.Video.CurrentTime = at
	c.Agent.CurrentUnactivatedID = prompt.ID
	c.Agent.CurrentSystemMessageID = sys.ID
}

func (o *Orchestrator) handlePlay(a Play) error {
	o.update(func(c *SystemContext) {
		c.State = StateVideoPlaying
		c.Video.IsPlaying = true
		if a.Time != nil {
			c.Video.CurrentTime = *a.Time
		}

		// A running countdown finishes the flow on its own.
		if o.countdown != nil {
			return
		}

		switch c.Agent.ActiveType {
		case agent.TypeQuiz:
			return
		case agent.TypeReflect:
			if reflectionCommitted(c) {
				return
			}
			c.purgeTransient()
			c.removeMessages(isReflectionFailure)
			c.Agent.ActiveType = ""
		default:
			c.purgeTransient()
		}
	})
	return nil
}

func isReflectionFailure(m Message) bool {
	return m.Type == MessageSystem && m.Message == reflectionFailedText
}

func reflectionCommitted(c *SystemContext) bool {
	i := c.lastMessage(MessageReflectionOptions)
	return i >= 0 && c.Messages[i].ReflectionCommitted
}

// acceptable returns the index of an unactivated, unprocessed agent prompt
// with id, or -1. A reflect prompt stays unactivated while its options are
// open, and the processed set does not survive a restore, so an options
// message linked to the prompt also marks it accepted.
func (o *Orchestrator) acceptable(id string) int {
	if _, done := o.processed[id]; done {
		return -1
	}
	i := o.state.findMessage(id)
	if i < 0 {
		return -1
	}
	m := o.state.Messages[i]
	if m.Type != MessageAgentPrompt || m.State != MessageUnactivated {
		return -1
	}
	for _, other := range o.state.Messages {
		if other.Type == MessageReflectionOptions && other.LinkedID == id {
			return -1
		}
	}
	return i
}

func (o *Orchestrator) handleAccept(ctx context.Context, a Accept) error {
	i := o.acceptable(a.MessageID)
	if i < 0 {
		o.log.Debug("ignoring accept for resolved or unknown message", "message_id", a.MessageID)
		return nil
	}
	o.processed[a.MessageID] = struct{}{}
	prompt := o.state.Messages[i]
	o.pauseBestEffort(ctx, "accept")

	switch prompt.AgentType {
	case agent.TypeQuiz:
		return o.startQuiz(ctx, prompt)
	case agent.TypeReflect:
		return o.startReflection(prompt)
	default:
		return o.acceptOneShot(ctx, prompt)
	}
}

// activate promotes an accepted prompt and its system message and appends
// a loading message. It returns the loading message id.
func (o *Orchestrator) activate(c *SystemContext, prompt Message, loading string, quizID string) string {
	c.purgeTransient(prompt.ID, prompt.LinkedID)
	if i := c.findMessage(prompt.ID); i >= 0 {
		c.Messages[i].State = MessageActivated
		c.Messages[i].QuizID = quizID
	}
	if i := c.findMessage(prompt.LinkedID); i >= 0 {
		c.Messages[i].State = MessagePermanent
		c.Messages[i].QuizID = quizID
	}
	l := o.newMessage(MessageAILoading, MessageActivated, loading, prompt.VideoTime)
	l.AgentType = prompt.AgentType
	l.QuizID = quizID
	c.Messages = append(c.Messages, l)

	c.State = StateAgentActivated
	c.Agent.ActiveType = prompt.AgentType
	c.Agent.CurrentUnactivatedID = ""
	c.Agent.CurrentSystemMessageID = ""
	return l.ID
}

// rollbackRateLimited undoes an acceptance after an upgrade-required signal.
func (o *Orchestrator) rollbackRateLimited(c *SystemContext, prompt Message, loadingID, upgrade string) {
	c.removeMessages(func(m Message) bool { return m.ID == loadingID })
	if i := c.findMessage(prompt.ID); i >= 0 {
		c.Messages[i].State = MessageRejected
		c.Messages[i].QuizID = ""
	}
	if i := c.findMessage(prompt.LinkedID); i >= 0 {
		c.Messages[i].QuizID = ""
	}
	if upgrade == "" {
		upgrade = agent.DefaultUpgradeMessage
	}
	c.Errors = append(c.Errors, SystemError{
		ID:        uuid.NewString(),
		Type:      ErrorUpgradeRequired,
		Message:   upgrade,
		Timestamp: o.clock.Now(),
	})
	c.State = StateAgentRejected
	c.Agent.ActiveType = ""
}

// acceptOneShot delivers a single generated response for hint and path.
func (o *Orchestrator) acceptOneShot(ctx context.Context, prompt Message) error {
	var loadingID string
	o.update(func(c *SystemContext) {
		loadingID = o.activate(c, prompt, loadingText(prompt.AgentType), "")
	})

	res, err := o.generate(ctx, prompt.AgentType, prompt.VideoTime)
	if err == nil && res.RateLimited {
		o.update(func(c *SystemContext) {
			o.rollbackRateLimited(c, prompt, loadingID, res.UpgradeMessage)
		})
		return nil
	}

	text := res.Text
	if err != nil || text == "" {
		o.log.Warn("generation failed, using default response", "agent_type", prompt.AgentType, "error", err)
		text = agent.DefaultText(prompt.AgentType)
	}

	o.update(func(c *SystemContext) {
		reply := o.newMessage(MessageAI, MessagePermanent, text, prompt.VideoTime)
		reply.AgentType = prompt.AgentType
		replaceMessage(c, loadingID, reply)
		c.Agent.ActiveType = ""
	})
	return nil
}

// replaceMessage swaps the message with id for m in place, or appends m
// when id is gone.
func replaceMessage(c *SystemContext, id string, m Message) {
	if i := c.findMessage(id); i >= 0 {
		c.Messages[i] = m
		return
	}
	c.Messages = append(c.Messages, m)
}

func (o *Orchestrator) handleReject(a Reject) error {
	i := o.acceptable(a.MessageID)
	if i < 0 {
		o.log.Debug("ignoring reject for resolved or unknown message", "message_id", a.MessageID)
		return nil
	}
	o.processed[a.MessageID] = struct{}{}
	linked := o.state.Messages[i].LinkedID

	o.update(func(c *SystemContext) {
		c.Messages[i].State = MessageRejected
		if j := c.findMessage(linked); j >= 0 {
			c.Messages[j].State = MessagePermanent
		}
		c.Agent.CurrentUnactivatedID = ""
		c.Agent.CurrentSystemMessageID = ""
		c.State = StateAgentRejected
	})
	return nil
}

func (o *Orchestrator) handleRecording(a Action) error {
	o.update(func(c *SystemContext) {
		r := &c.Recording
		switch a.(type) {
		case RecordingStarted:
			r.IsRecording, r.IsPaused = true, false
		case RecordingPaused:
			if r.IsRecording {
				r.IsPaused = true
			}
		case RecordingResumed:
			r.IsPaused = false
		case RecordingStopped:
			r.IsRecording, r.IsPaused = false, false
		}
	})
	return nil
}

func (o *Orchestrator) handleErrorDismissed(a ErrorDismissed) error {
	found := false
	for _, e := range o.state.Errors {
		if e.ID == a.ID {
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	o.update(func(c *SystemContext) {
		kept := make([]SystemError, 0, len(c.Errors))
		for _, e := range c.Errors {
			if e.ID != a.ID {
				kept = append(kept, e)
			}
		}
		c.Errors = kept
	})
	return nil
}

func (o *Orchestrator) handleSetVideo(meta VideoMeta) error {
	o.update(func(c *SystemContext) {
		c.Video.VideoID = meta.VideoID
		c.Video.CourseID = meta.CourseID
		if meta.Duration > 0 {
			c.Video.Duration = meta.Duration
		}
	})
	return nil
}
