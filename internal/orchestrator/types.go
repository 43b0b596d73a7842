// Package orchestrator owns the interaction state of one video session and
// moves it through agent, quiz, reflection and segment flows.
package orchestrator

import (
	"time"

	"github.com/ashureev/vidsync-labs/internal/agent"
)

// State is the top-level interaction state.
type State string

const (
	StateVideoPlaying            State = "VIDEO_PLAYING"
	StateVideoPaused             State = "VIDEO_PAUSED"
	StateAgentShowingUnactivated State = "AGENT_SHOWING_UNACTIVATED"
	StateAgentActivated          State = "AGENT_ACTIVATED"
	StateAgentRejected           State = "AGENT_REJECTED"
)

// MessageType tags the Message variant.
type MessageType string

const (
	MessageSystem            MessageType = "system"
	MessageAgentPrompt       MessageType = "agent-prompt"
	MessageAI                MessageType = "ai"
	MessageAILoading         MessageType = "ai-loading"
	MessageQuizQuestion      MessageType = "quiz-question"
	MessageReflectionOptions MessageType = "reflection-options"
)

// MessageState governs a message's lifecycle. Unactivated messages are
// provisional and are purged by the next clearing transition.
type MessageState string

const (
	MessageUnactivated MessageState = "UNACTIVATED"
	MessageActivated   MessageState = "ACTIVATED"
	MessageRejected    MessageState = "REJECTED"
	MessagePermanent   MessageState = "PERMANENT"
)

// Error types recorded in SystemContext.Errors.
const (
	ErrorUpgradeRequired = "upgrade-required"
	ErrorCommandFailed   = "command-failed"
)

// VideoState mirrors the player.
type VideoState struct {
	IsPlaying   bool    `json:"is_playing"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	VideoID     string  `json:"video_id,omitempty"`
	CourseID    string  `json:"course_id,omitempty"`
}

// AgentState tracks which agent occupies the interaction. An empty
// ActiveType means none.
type AgentState struct {
	CurrentUnactivatedID   string     `json:"current_unactivated_id,omitempty"`
	CurrentSystemMessageID string     `json:"current_system_message_id,omitempty"`
	ActiveType             agent.Type `json:"active_type,omitempty"`
}

// SegmentState is a candidate clip range. When both bounds are set,
// InPoint < OutPoint.
type SegmentState struct {
	InPoint    *float64 `json:"in_point"`
	OutPoint   *float64 `json:"out_point"`
	IsComplete bool     `json:"is_complete"`
	SentToChat bool     `json:"sent_to_chat"`
}

// RecordingState tracks the learner's screen or voice recording.
type RecordingState struct {
	IsRecording bool `json:"is_recording"`
	IsPaused    bool `json:"is_paused"`
}

// QuizState is the progress of a running quiz. UserAnswers holds nil for
// unanswered questions.
type QuizState struct {
	Questions            []agent.QuizQuestion `json:"questions"`
	CurrentQuestionIndex int                  `json:"current_question_index"`
	UserAnswers          []*int               `json:"user_answers"`
	Score                int                  `json:"score"`
	IsComplete           bool                 `json:"is_complete"`
}

// QuizData is the payload of a quiz-question message.
type QuizData struct {
	Question agent.QuizQuestion `json:"question"`
	State    QuizState          `json:"state"`
}

// QuizReview is the per-question outcome shown after a quiz.
type QuizReview struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correct_answer"`
	UserAnswer    int      `json:"user_answer"`
	Correct       bool     `json:"correct"`
	Explanation   string   `json:"explanation,omitempty"`
}

// QuizResult summarizes a completed quiz.
type QuizResult struct {
	Score  int          `json:"score"`
	Total  int          `json:"total"`
	Review []QuizReview `json:"review"`
}

// ReflectionData is the metadata of a saved reflection.
type ReflectionData struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	MediaURL       string    `json:"media_url,omitempty"`
	LoomLink       string    `json:"loom_link,omitempty"`
	TextContent    string    `json:"text_content,omitempty"`
	VideoTimestamp float64   `json:"video_timestamp"`
	SavedAt        time.Time `json:"saved_at"`
}

// Message is one entry of the interaction feed. Type-specific fields are
// only set for their variant.
type Message struct {
	ID        string       `json:"id"`
	Type      MessageType  `json:"type"`
	State     MessageState `json:"state"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
	VideoTime float64      `json:"video_time"`

	// LinkedID points an agent prompt at its "paused at" system message and
	// a reflection-options message at its prompt.
	LinkedID string `json:"linked_id,omitempty"`

	AgentType agent.Type `json:"agent_type,omitempty"`

	// QuizID groups every message belonging to one quiz run.
	QuizID     string      `json:"quiz_id,omitempty"`
	QuizData   *QuizData   `json:"quiz_data,omitempty"`
	QuizResult *QuizResult `json:"quiz_result,omitempty"`

	ReflectionData      *ReflectionData `json:"reflection_data,omitempty"`
	ReflectionCommitted bool            `json:"reflection_committed,omitempty"`
	ReflectionType      string          `json:"reflection_type,omitempty"`

	// Countdown is the remaining seconds on a resume countdown message.
	Countdown int `json:"countdown,omitempty"`
}

// SystemError is a user-visible error raised by the interaction.
type SystemError struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	CommandID string    `json:"command_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SystemContext is the complete interaction state. Revision increases by
// one with every committed transition.
type SystemContext struct {
	Revision  int64          `json:"revision"`
	State     State          `json:"state"`
	Video     VideoState     `json:"video_state"`
	Agent     AgentState     `json:"agent_state"`
	Segment   SegmentState   `json:"segment_state"`
	Recording RecordingState `json:"recording_state"`
	Messages  []Message      `json:"messages"`
	Errors    []SystemError  `json:"errors"`
}

// InitialContext returns the context of a fresh session.
func InitialContext() SystemContext {
	return SystemContext{
		State:    StateVideoPaused,
		Messages: []Message{},
		Errors:   []SystemError{},
	}
}

// VideoMeta identifies the video being watched.
type VideoMeta struct {
	VideoID  string  `json:"video_id"`
	CourseID string  `json:"course_id,omitempty"`
	Duration float64 `json:"duration"`
}

// Clone returns a deep copy sharing no mutable memory with c.
func (c SystemContext) Clone() SystemContext {
	out := c
	out.Segment.InPoint = cloneFloat(c.Segment.InPoint)
	out.Segment.OutPoint = cloneFloat(c.Segment.OutPoint)
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.clone()
	}
	out.Errors = append(make([]SystemError, 0, len(c.Errors)), c.Errors...)
	return out
}

func (m Message) clone() Message {
	out := m
	if m.QuizData != nil {
		qd := *m.QuizData
		qd.Question = cloneQuestion(m.QuizData.Question)
		qd.State = m.QuizData.State.clone()
		out.QuizData = &qd
	}
	if m.QuizResult != nil {
		qr := *m.QuizResult
		qr.Review = make([]QuizReview, len(m.QuizResult.Review))
		for i, r := range m.QuizResult.Review {
			r.Options = append([]string(nil), r.Options...)
			qr.Review[i] = r
		}
		out.QuizResult = &qr
	}
	if m.ReflectionData != nil {
		rd := *m.ReflectionData
		out.ReflectionData = &rd
	}
	return out
}

func (s QuizState) clone() QuizState {
	out := s
	out.Questions = make([]agent.QuizQuestion, len(s.Questions))
	for i, q := range s.Questions {
		out.Questions[i] = cloneQuestion(q)
	}
	out.UserAnswers = make([]*int, len(s.UserAnswers))
	for i, a := range s.UserAnswers {
		if a != nil {
			v := *a
			out.UserAnswers[i] = &v
		}
	}
	return out
}

func cloneQuestion(q agent.QuizQuestion) agent.QuizQuestion {
	q.Options = append([]string(nil), q.Options...)
	return q
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// findMessage returns the index of the message with id, or -1.
func (c *SystemContext) findMessage(id string) int {
	if id == "" {
		return -1
	}
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// lastMessage returns the index of the last message of type t, or -1.
func (c *SystemContext) lastMessage(t MessageType) int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Type == t {
			return i
		}
	}
	return -1
}

// removeMessages drops every message matching drop.
func (c *SystemContext) removeMessages(drop func(Message) bool) {
	kept := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if !drop(m) {
			kept = append(kept, m)
		}
	}
	c.Messages = kept
}

// purgeTransient drops unactivated and reflection-options messages except
// those whose ids are listed in keep.
func (c *SystemContext) purgeTransient(keep ...string) {
	c.removeMessages(func(m Message) bool {
		for _, id := range keep {
			if m.ID == id {
				return false
			}
		}
		return m.State == MessageUnactivated || m.Type == MessageReflectionOptions
	})
}

// reconcileAgent clears agent ids whose messages are gone or no longer
// provisional.
func (c *SystemContext) reconcileAgent() {
	if i := c.findMessage(c.Agent.CurrentUnactivatedID); i < 0 || c.Messages[i].State != MessageUnactivated {
		c.Agent.CurrentUnactivatedID = ""
	}
	if c.findMessage(c.Agent.CurrentSystemMessageID) < 0 {
		c.Agent.CurrentSystemMessageID = ""
	}
}

// updateSegmentFlags recomputes IsComplete after a bound changed.
func (s *SegmentState) updateSegmentFlags() {
	s.IsComplete = s.InPoint != nil && s.OutPoint != nil && *s.InPoint < *s.OutPoint
	s.SentToChat = false
}
