// Package agent generates pedagogical agent content for a paused video.
package agent

import "errors"

// ErrNoGenerator is returned when a Service has no backing generator.
var ErrNoGenerator = errors.New("no response generator configured")

// Type is a pedagogical agent kind offered when the video pauses.
type Type string

const (
	// TypeHint offers a short hint about the current moment.
	TypeHint Type = "hint"
	// TypeQuiz runs a short multiple-choice quiz.
	TypeQuiz Type = "quiz"
	// TypeReflect asks the learner to record a reflection.
	TypeReflect Type = "reflect"
	// TypePath suggests where to go next in the course.
	TypePath Type = "path"
)

// Valid reports whether t is one of the known agent kinds.
func (t Type) Valid() bool {
	switch t {
	case TypeHint, TypeQuiz, TypeReflect, TypePath:
		return true
	}
	return false
}

// Request describes the moment generation is requested for.
type Request struct {
	UserID         string  `json:"-"`
	SessionID      string  `json:"-"`
	AgentType      Type    `json:"agent_type"`
	VideoTimestamp float64 `json:"video_timestamp"`
	VideoID        string  `json:"video_id"`
	CourseID       string  `json:"course_id,omitempty"`
	QuestionCount  int     `json:"question_count,omitempty"`
}

// QuizQuestion is a single multiple-choice question.
type QuizQuestion struct {
	ID            string   `json:"id" yaml:"id"`
	Question      string   `json:"question" yaml:"question"`
	Options       []string `json:"options" yaml:"options"`
	CorrectAnswer int      `json:"correct_answer" yaml:"correct_answer"`
	Explanation   string   `json:"explanation,omitempty" yaml:"explanation"`
}

// Valid reports whether the question can be asked.
func (q QuizQuestion) Valid() bool {
	return q.Question != "" && len(q.Options) >= 2 &&
		q.CorrectAnswer >= 0 && q.CorrectAnswer < len(q.Options)
}

// Result is the outcome of a generation call. Exactly one of Text,
// Questions or RateLimited is meaningful.
type Result struct {
	Text           string         `json:"text,omitempty"`
	Questions      []QuizQuestion `json:"questions,omitempty"`
	RateLimited    bool           `json:"rate_limited,omitempty"`
	UpgradeMessage string         `json:"upgrade_message,omitempty"`
}
