package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/vidsync-labs/internal/agent"
	"github.com/ashureev/vidsync-labs/internal/reflection"
)

const (
	reflectionOptionsText = "How would you like to reflect? Choose a format to get started."
	reflectionSavingText  = "Saving your reflection…"
	reflectionFailedText  = "We couldn't save your reflection. Please try again."
)

// startReflection keeps the prompt and its system message provisional so an
// abandoned reflection can still be cleared, and offers the options.
func (o *Orchestrator) startReflection(prompt Message) error {
	o.update(func(c *SystemContext) {
		c.purgeTransient(prompt.ID, prompt.LinkedID)

		opts := o.newMessage(MessageReflectionOptions, MessageUnactivated, reflectionOptionsText, prompt.VideoTime)
		opts.AgentType = agent.TypeReflect
		opts.LinkedID = prompt.ID
		c.Messages = append(c.Messages, opts)

		c.State = StateAgentActivated
		c.Agent.ActiveType = agent.TypeReflect
		c.Agent.CurrentUnactivatedID = ""
	})
	return nil
}

func (o *Orchestrator) handleReflectionTypeChosen(a ReflectionTypeChosen) error {
	if o.state.Agent.ActiveType != agent.TypeReflect {
		return nil
	}
	i := o.state.lastMessage(MessageReflectionOptions)
	if i < 0 {
		return nil
	}
	o.update(func(c *SystemContext) {
		c.Messages[i].ReflectionCommitted = true
		c.Messages[i].ReflectionType = a.ReflectionType
	})
	return nil
}

func (o *Orchestrator) handleReflectionSubmit(ctx context.Context, a ReflectionSubmit) error {
	if o.state.Agent.ActiveType != agent.TypeReflect || o.countdown != nil {
		return nil
	}
	optsIdx := o.state.lastMessage(MessageReflectionOptions)
	var opts Message
	if optsIdx >= 0 {
		opts = o.state.Messages[optsIdx]
	}
	kind := a.ReflectionType
	if kind == "" {
		kind = opts.ReflectionType
	}
	at := o.state.Video.CurrentTime
	if p := o.state.findMessage(opts.LinkedID); p >= 0 {
		at = o.state.Messages[p].VideoTime
	}

	var loadingID string
	o.update(func(c *SystemContext) {
		c.removeMessages(isReflectionFailure)
		l := o.newMessage(MessageAILoading, MessageActivated, reflectionSavingText, at)
		l.AgentType = agent.TypeReflect
		loadingID = l.ID
		c.Messages = append(c.Messages, l)
	})

	sub := reflection.Submission{
		UserID:      o.cfg.UserID,
		SessionID:   o.cfg.SessionID,
		VideoID:     o.state.Video.VideoID,
		CourseID:    o.state.Video.CourseID,
		Timestamp:   at,
		Type:        kind,
		TextContent: a.TextContent,
		LoomLink:    a.LoomLink,
	}
	if a.Media != nil {
		sub.Media = &reflection.Media{Name: a.Media.Name, ContentType: a.Media.ContentType, Data: a.Media.Data}
	}

	saved, err := o.saveReflection(ctx, sub)
	if err != nil {
		o.log.Warn("reflection save failed", "reflection_type", kind, "error", err)
		// No countdown: the learner retries from the same screen.
		o.update(func(c *SystemContext) {
			replaceMessage(c, loadingID, o.newMessage(MessageSystem, MessagePermanent, reflectionFailedText, at))
		})
		return nil
	}

	o.update(func(c *SystemContext) {
		c.removeMessages(func(m Message) bool {
			return m.ID == loadingID || m.Type == MessageReflectionOptions
		})
		if i := c.findMessage(opts.LinkedID); i >= 0 {
			c.Messages[i].State = MessageActivated
			if j := c.findMessage(c.Messages[i].LinkedID); j >= 0 {
				c.Messages[j].State = MessagePermanent
			}
		}

		activated := o.newMessage(MessageSystem, MessagePermanent, "Reflection activated", at)
		ack := o.newMessage(MessageAI, MessagePermanent, "Thanks for reflecting. Your reflection was saved.", at)
		ack.AgentType = agent.TypeReflect
		ack.ReflectionData = &ReflectionData{
			ID:             saved.ID,
			Type:           kind,
			MediaURL:       saved.MediaURL,
			LoomLink:       a.LoomLink,
			TextContent:    a.TextContent,
			VideoTimestamp: at,
			SavedAt:        saved.SavedAt,
		}
		c.Messages = append(c.Messages, activated, ack)

		o.startCountdown(c, agent.TypeReflect, at)
	})
	return nil
}

func (o *Orchestrator) saveReflection(ctx context.Context, sub reflection.Submission) (reflection.Saved, error) {
	if o.cfg.Reflections == nil {
		return reflection.Saved{}, errors.New("reflection persistence unavailable")
	}
	saved, err := o.cfg.Reflections.Save(ctx, sub)
	if err != nil {
		return reflection.Saved{}, fmt.Errorf("save reflection: %w", err)
	}
	return saved, nil
}

func (o *Orchestrator) handleReflectionCancel() error {
	if o.state.Agent.ActiveType != agent.TypeReflect || o.countdown != nil {
		return nil
	}
	o.update(func(c *SystemContext) {
		c.purgeTransient()
		c.removeMessages(isReflectionFailure)
		c.Agent.ActiveType = ""
		c.State = StateVideoPaused
		c.Video.IsPlaying = false
	})
	return nil
}
