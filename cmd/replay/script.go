package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/vidsync-labs/internal/orchestrator"
)

// script is a replay file.
type script struct {
	UserID           string    `yaml:"user_id"`
	SessionID        string    `yaml:"session_id"`
	Video            videoSpec `yaml:"video"`
	CountdownSeconds int       `yaml:"countdown_seconds"`
	QuestionCount    int       `yaml:"question_count"`
	Steps            []step    `yaml:"steps"`
}

type videoSpec struct {
	VideoID  string  `yaml:"video_id"`
	CourseID string  `yaml:"course_id"`
	Duration float64 `yaml:"duration"`
}

func (v videoSpec) meta() orchestrator.VideoMeta {
	return orchestrator.VideoMeta{VideoID: v.VideoID, CourseID: v.CourseID, Duration: v.Duration}
}

// step is exactly one of: an action, a seek, or accept/reject of the latest
// agent prompt.
type step struct {
	Action  string         `yaml:"action"`
	Payload map[string]any `yaml:"payload"`
	// Seek moves the scripted playhead.
	Seek *float64 `yaml:"seek"`
	// PauseFailures makes the next N pause requests fail.
	PauseFailures int `yaml:"pause_failures"`
	// Accept and Reject target the newest unactivated agent prompt.
	Accept bool `yaml:"accept"`
	Reject bool `yaml:"reject"`
}

func loadScript(path string) (*script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if s.UserID == "" {
		s.UserID = "replay"
	}
	if s.SessionID == "" {
		s.SessionID = "replay"
	}
	for i, st := range s.Steps {
		n := 0
		for _, set := range []bool{st.Action != "", st.Seek != nil, st.Accept, st.Reject, st.PauseFailures != 0} {
			if set {
				n++
			}
		}
		if n != 1 {
			return nil, fmt.Errorf("step %d: exactly one of action, seek, pause_failures, accept or reject is required", i+1)
		}
		if st.Action != "" {
			if _, err := st.decode(); err != nil {
				return nil, fmt.Errorf("step %d: %w", i+1, err)
			}
		}
	}
	return &s, nil
}

// decode converts the YAML payload into a wire action.
func (st step) decode() (orchestrator.Action, error) {
	var raw json.RawMessage
	if len(st.Payload) > 0 {
		b, err := json.Marshal(st.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}
	return orchestrator.Envelope{Type: st.Action, Payload: raw}.Decode()
}
