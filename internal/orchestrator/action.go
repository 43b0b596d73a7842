package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/vidsync-labs/internal/agent"
	"github.com/ashureev/vidsync-labs/internal/queue"
)

// ErrUnknownAction is returned by DecodeAction for a type outside the
// action set.
var ErrUnknownAction = errors.New("unknown action type")

// ErrInvalidPayload is returned by DecodeAction when the payload does not
// fit the action type.
var ErrInvalidPayload = errors.New("invalid action payload")

// ActionType is the wire name of an inbound action.
type ActionType string

const (
	ActionShowAgent            ActionType = "BUTTON_CLICKED_SHOW_AGENT"
	ActionManualPause          ActionType = "VIDEO_MANUALLY_PAUSED"
	ActionPlay                 ActionType = "VIDEO_PLAYED"
	ActionAccept               ActionType = "ACCEPT_AGENT"
	ActionReject               ActionType = "REJECT_AGENT"
	ActionQuizAnswer           ActionType = "QUIZ_ANSWER_SELECTED"
	ActionReflectionTypeChosen ActionType = "REFLECTION_TYPE_CHOSEN"
	ActionReflectionSubmit     ActionType = "REFLECTION_SUBMITTED"
	ActionReflectionCancel     ActionType = "REFLECTION_CANCELLED"
	ActionSetInPoint           ActionType = "SET_IN_POINT"
	ActionSetOutPoint          ActionType = "SET_OUT_POINT"
	ActionClearSegment         ActionType = "CLEAR_SEGMENT"
	ActionSendSegmentToChat    ActionType = "SEND_SEGMENT_TO_CHAT"
	ActionRecordingStarted     ActionType = "RECORDING_STARTED"
	ActionRecordingPaused      ActionType = "RECORDING_PAUSED"
	ActionRecordingResumed     ActionType = "RECORDING_RESUMED"
	ActionRecordingStopped     ActionType = "RECORDING_STOPPED"
	ActionErrorDismissed       ActionType = "ERROR_DISMISSED"
)

// Action is an inbound request to change the interaction. The set is
// closed: only types in this package implement it.
type Action interface {
	Type() ActionType
	sealed()
}

// ShowAgent is a click on an agent button.
type ShowAgent struct {
	AgentType agent.Type `json:"agent_type"`
	Time      *float64   `json:"time,omitempty"`
}

// ManualPause reports that the learner paused the player.
type ManualPause struct {
	Time *float64 `json:"time,omitempty"`
}

// Play reports that the player resumed.
type Play struct {
	Time *float64 `json:"time,omitempty"`
}

// Accept accepts an agent prompt.
type Accept struct {
	MessageID string `json:"message_id"`
}

// Reject dismisses an agent prompt.
type Reject struct {
	MessageID string `json:"message_id"`
}

// QuizAnswer answers the current quiz question.
type QuizAnswer struct {
	QuestionIndex int `json:"question_index"`
	AnswerIndex   int `json:"answer_index"`
}

// ReflectionTypeChosen commits the learner to a reflection kind.
type ReflectionTypeChosen struct {
	ReflectionType string `json:"reflection_type"`
}

// MediaFile is an uploaded reflection recording.
type MediaFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// ReflectionSubmit submits the reflection.
type ReflectionSubmit struct {
	ReflectionType string     `json:"reflection_type,omitempty"`
	TextContent    string     `json:"text_content,omitempty"`
	LoomLink       string     `json:"loom_link,omitempty"`
	Media          *MediaFile `json:"media,omitempty"`
}

// ReflectionCancel abandons the reflection.
type ReflectionCancel struct{}

// SetInPoint marks the segment start at the playhead.
type SetInPoint struct {
	Time *float64 `json:"time,omitempty"`
}

// SetOutPoint marks the segment end at the playhead.
type SetOutPoint struct {
	Time *float64 `json:"time,omitempty"`
}

// ClearSegment resets the segment.
type ClearSegment struct{}

// SendSegmentToChat scopes the next chat message to the segment.
type SendSegmentToChat struct{}

// RecordingStarted and the other recording actions track the recorder.
type RecordingStarted struct{}

// RecordingPaused pauses an active recording.
type RecordingPaused struct{}

// RecordingResumed resumes a paused recording.
type RecordingResumed struct{}

// RecordingStopped ends the recording.
type RecordingStopped struct{}

// ErrorDismissed removes a SystemError.
type ErrorDismissed struct {
	ID string `json:"id"`
}

func (ShowAgent) Type() ActionType            { return ActionShowAgent }
func (ManualPause) Type() ActionType          { return ActionManualPause }
func (Play) Type() ActionType                 { return ActionPlay }
func (Accept) Type() ActionType               { return ActionAccept }
func (Reject) Type() ActionType               { return ActionReject }
func (QuizAnswer) Type() ActionType           { return ActionQuizAnswer }
func (ReflectionTypeChosen) Type() ActionType { return ActionReflectionTypeChosen }
func (ReflectionSubmit) Type() ActionType     { return ActionReflectionSubmit }
func (ReflectionCancel) Type() ActionType     { return ActionReflectionCancel }
func (SetInPoint) Type() ActionType           { return ActionSetInPoint }
func (SetOutPoint) Type() ActionType          { return ActionSetOutPoint }
func (ClearSegment) Type() ActionType         { return ActionClearSegment }
func (SendSegmentToChat) Type() ActionType    { return ActionSendSegmentToChat }
func (RecordingStarted) Type() ActionType     { return ActionRecordingStarted }
func (RecordingPaused) Type() ActionType      { return ActionRecordingPaused }
func (RecordingResumed) Type() ActionType     { return ActionRecordingResumed }
func (RecordingStopped) Type() ActionType     { return ActionRecordingStopped }
func (ErrorDismissed) Type() ActionType       { return ActionErrorDismissed }

func (ShowAgent) sealed()            {}
func (ManualPause) sealed()          {}
func (Play) sealed()                 {}
func (Accept) sealed()               {}
func (Reject) sealed()               {}
func (QuizAnswer) sealed()           {}
func (ReflectionTypeChosen) sealed() {}
func (ReflectionSubmit) sealed()     {}
func (ReflectionCancel) sealed()     {}
func (SetInPoint) sealed()           {}
func (SetOutPoint) sealed()          {}
func (ClearSegment) sealed()         {}
func (SendSegmentToChat) sealed()    {}
func (RecordingStarted) sealed()     {}
func (RecordingPaused) sealed()      {}
func (RecordingResumed) sealed()     {}
func (RecordingStopped) sealed()     {}
func (ErrorDismissed) sealed()       {}

// Command types. Internal commands never arrive from the wire.
const (
	cmdShowAgent            queue.Type = "SHOW_AGENT"
	cmdManualPause          queue.Type = "MANUAL_PAUSE"
	cmdPlay                 queue.Type = "PLAY"
	cmdAccept               queue.Type = "ACCEPT_AGENT"
	cmdReject               queue.Type = "REJECT_AGENT"
	cmdQuizAnswer           queue.Type = "QUIZ_ANSWER"
	cmdReflectionTypeChosen queue.Type = "REFLECTION_TYPE_CHOSEN"
	cmdReflectionSubmit     queue.Type = "REFLECTION_SUBMIT"
	cmdReflectionCancel     queue.Type = "REFLECTION_CANCEL"
	cmdSetInPoint           queue.Type = "SET_IN_POINT"
	cmdSetOutPoint          queue.Type = "SET_OUT_POINT"
	cmdClearSegment         queue.Type = "CLEAR_SEGMENT"
	cmdSendSegmentToChat    queue.Type = "SEND_SEGMENT_TO_CHAT"
	cmdRecording            queue.Type = "RECORDING"
	cmdDismissError         queue.Type = "DISMISS_ERROR"

	cmdSetVideo      queue.Type = "SET_VIDEO"
	cmdCountdownTick queue.Type = "COUNTDOWN_TICK"
)

// segmentAttempts bounds retries of in/out point commands, whose pause may
// transiently fail.
const segmentAttempts = 3

// commandFor maps an action to its command. It panics for a value outside
// the action set.
func commandFor(a Action) *queue.Command {
	switch a := a.(type) {
	case ShowAgent:
		return queue.NewCommand(cmdShowAgent, a, 1)
	case ManualPause:
		return queue.NewCommand(cmdManualPause, a, 1)
	case Play:
		return queue.NewCommand(cmdPlay, a, 1)
	case Accept:
		return queue.NewCommand(cmdAccept, a, 1)
	case Reject:
		return queue.NewCommand(cmdReject, a, 1)
	case QuizAnswer:
		return queue.NewCommand(cmdQuizAnswer, a, 1)
	case ReflectionTypeChosen:
		return queue.NewCommand(cmdReflectionTypeChosen, a, 1)
	case ReflectionSubmit:
		return queue.NewCommand(cmdReflectionSubmit, a, 1)
	case ReflectionCancel:
		return queue.NewCommand(cmdReflectionCancel, a, 1)
	case SetInPoint:
		return queue.NewCommand(cmdSetInPoint, a, segmentAttempts)
	case SetOutPoint:
		return queue.NewCommand(cmdSetOutPoint, a, segmentAttempts)
	case ClearSegment:
		return queue.NewCommand(cmdClearSegment, a, 1)
	case SendSegmentToChat:
		return queue.NewCommand(cmdSendSegmentToChat, a, 1)
	case RecordingStarted, RecordingPaused, RecordingResumed, RecordingStopped:
		return queue.NewCommand(cmdRecording, a, 1)
	case ErrorDismissed:
		return queue.NewCommand(cmdDismissError, a, 1)
	}
	panic(fmt.Sprintf("orchestrator: no command mapping for action %T", a))
}

// Envelope is the wire form of an action.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses the envelope into an Action.
func (e Envelope) Decode() (Action, error) {
	return DecodeAction(e.Type, e.Payload)
}

// DecodeAction parses a wire action.
func DecodeAction(actionType string, payload json.RawMessage) (Action, error) {
	var a Action
	switch ActionType(actionType) {
	case ActionShowAgent:
		var v ShowAgent
		if err := decodePayload(payload, &v); err != nil {
			return nil, err
		}
		if !v.AgentType.Valid() {
			return nil, fmt.Errorf("%w: unknown agent type %q", ErrInvalidPayload, v.AgentType)
		}
		a = v
	case ActionManualPause:
		var v ManualPause
		if err := decodePayload(payload, &v); err != nil {
			return nil, err
		}
		a = v
	case ActionPlay:
		var v Play
		if err := decodePayload(payload, &v); err != nil {
			return nil, err
		}
		a = v
	case ActionAccept:
		var v Accept
		if err := decodePayload(payload, &v); err != nil {
			return nil, err
		}
		if v.MessageID == "" {
			return nil, fmt.Errorf("%w: message_id is required", ErrInvalidPayload)
		}
		a = v
	case ActionReject:
		var v Reject
		if err := decodePayload(payload, &v); err != nil {
			return nil, err
		}
		if v.MessageID == "" {
			return nil, fmt.Errorf("%w: message_id is required", ErrInvalidPayload)
		}
		a = v
	case ActionQuizAnswer:
		var v QuizAnswer
		if err := decodePayload(payload, &v); err != nil {
			return nil, err
		}
		a = v
	case ActionReflectionTypeChosen:
		var v ReflectionTypeChosen
		if err := decodePayload(payload, &v); err != nil {
			return nil, err
		}
		if v.ReflectionType == "" {
			return nil, fmt.Errorf("%w: reflection_type is required", ErrInvalidPayload)
		}
		a = v
	case ActionReflectionSubmit:
		var v ReflectionSubmit
		if err := decodePayload(payload, &v); err != nil {
			return nil, err
		}
		a = v
	case ActionReflectionCancel:
		a = ReflectionCancel{}
	case ActionSetInPoint:
		var v SetInPoint
		if err := decodePayload(payload, &v); err != nil {
			return nil, err
		}
		a = v
	case ActionSetOutPoint:
		var v SetOutPoint
		if err := decodePayload(payload, &v); err != nil {
			return nil, err
		}
		a = v
	case ActionClearSegment:
		a = ClearSegment{}
	case ActionSendSegmentToChat:
		a = SendSegmentToChat{}
	case ActionRecordingStarted:
		a = RecordingStarted{}
	case ActionRecordingPaused:
		a = RecordingPaused{}
	case ActionRecordingResumed:
		a = RecordingResumed{}
	case ActionRecordingStopped:
		a = RecordingStopped{}
	case ActionErrorDismissed:
		var v ErrorDismissed
		if err := decodePayload(payload, &v); err != nil {
			return nil, err
		}
		a = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, actionType)
	}
	return a, nil
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
