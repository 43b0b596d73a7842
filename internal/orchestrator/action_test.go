package orchestrator

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ashureev/vidsync-labs/internal/agent"
)

func TestDecodeAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		typ     string
		payload string
		want    Action
		wantErr error
	}{
		{name: "show agent", typ: "BUTTON_CLICKED_SHOW_AGENT", payload: `{"agent_type":"quiz","time":12.5}`, want: ShowAgent{AgentType: agent.TypeQuiz, Time: at(12.5)}},
		{name: "show agent bad type", typ: "BUTTON_CLICKED_SHOW_AGENT", payload: `{"agent_type":"dance"}`, wantErr: ErrInvalidPayload},
		{name: "manual pause without payload", typ: "VIDEO_MANUALLY_PAUSED", want: ManualPause{}},
		{name: "accept", typ: "ACCEPT_AGENT", payload: `{"message_id":"m1"}`, want: Accept{MessageID: "m1"}},
		{name: "accept without id", typ: "ACCEPT_AGENT", payload: `{}`, wantErr: ErrInvalidPayload},
		{name: "reject without id", typ: "REJECT_AGENT", payload: `null`, wantErr: ErrInvalidPayload},
		{name: "quiz answer", typ: "QUIZ_ANSWER_SELECTED", payload: `{"question_index":1,"answer_index":2}`, want: QuizAnswer{QuestionIndex: 1, AnswerIndex: 2}},
		{name: "reflection type required", typ: "REFLECTION_TYPE_CHOSEN", payload: `{}`, wantErr: ErrInvalidPayload},
		{name: "cancel ignores payload", typ: "REFLECTION_CANCELLED", payload: `{"x":1}`, want: ReflectionCancel{}},
		{name: "recording", typ: "RECORDING_STOPPED", want: RecordingStopped{}},
		{name: "malformed json", typ: "SET_IN_POINT", payload: `{"time":`, wantErr: ErrInvalidPayload},
		{name: "unknown", typ: "VIDEO_EXPLODED", wantErr: ErrUnknownAction},
		{name: "internal command is not an action", typ: "COUNTDOWN_TICK", wantErr: ErrUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeAction(tt.typ, json.RawMessage(tt.payload))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeAction failed: %v", err)
			}
			if got.Type() != tt.want.Type() {
				t.Fatalf("type = %s, want %s", got.Type(), tt.want.Type())
			}
			if sa, ok := tt.want.(ShowAgent); ok {
				g := got.(ShowAgent)
				if g.AgentType != sa.AgentType || g.Time == nil || *g.Time != *sa.Time {
					t.Fatalf("got %+v, want %+v", g, sa)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeReflectionSubmitWithMedia(t *testing.T) {
	t.Parallel()

	a, err := DecodeAction("REFLECTION_SUBMITTED",
		json.RawMessage(`{"reflection_type":"voice","media":{"name":"r.webm","content_type":"audio/webm","data":"aGVsbG8="}}`))
	if err != nil {
		t.Fatalf("DecodeAction failed: %v", err)
	}
	sub := a.(ReflectionSubmit)
	if sub.Media == nil || string(sub.Media.Data) != "hello" || sub.Media.ContentType != "audio/webm" {
		t.Fatalf("unexpected media %+v", sub.Media)
	}
}

type foreignAction struct{}

func (foreignAction) Type() ActionType { return "FOREIGN" }
func (foreignAction) sealed()          {}

func TestCommandForPanicsOutsideActionSet(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unmapped action")
		}
	}()
	commandFor(foreignAction{})
}

func TestCommandForSegmentRetries(t *testing.T) {
	t.Parallel()

	if cmd := commandFor(SetInPoint{}); cmd.MaxAttempts != segmentAttempts {
		t.Fatalf("set in point attempts = %d", cmd.MaxAttempts)
	}
	if cmd := commandFor(Accept{MessageID: "m"}); cmd.MaxAttempts != 1 {
		t.Fatalf("accept attempts = %d", cmd.MaxAttempts)
	}
}

func TestFormatTimestamp(t *testing.T) {
	t.Parallel()

	cases := map[float64]string{
		0:      "0:00",
		42.9:   "0:42",
		75:     "1:15",
		600:    "10:00",
		3725.4: "1:02:05",
		-3:     "0:00",
	}
	for in, want := range cases {
		if got := formatTimestamp(in); got != want {
			t.Errorf("formatTimestamp(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestEnvelopeDecode(t *testing.T) {
	t.Parallel()

	var env Envelope
	if err := json.Unmarshal([]byte(`{"type":"SET_OUT_POINT","payload":{"time":30}}`), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	a, err := env.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out, ok := a.(SetOutPoint); !ok || out.Time == nil || *out.Time != 30 {
		t.Fatalf("unexpected action %#v", a)
	}
}
