package orchestrator

import (
	"fmt"
	"math"

	"github.com/ashureev/vidsync-labs/internal/agent"
)

// formatTimestamp renders seconds as m:ss, or h:mm:ss past the hour.
func formatTimestamp(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	s := int(math.Floor(seconds))
	h, m, sec := s/3600, (s%3600)/60, s%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

func pausedAtText(seconds float64) string {
	return "Paused at " + formatTimestamp(seconds)
}

func countdownText(remaining int) string {
	return fmt.Sprintf("Resuming video in %d…", remaining)
}

func promptText(t agent.Type) string {
	switch t {
	case agent.TypeHint:
		return "Stuck on something? I can give you a hint about this part."
	case agent.TypeQuiz:
		return "Want to check your understanding with a quick quiz?"
	case agent.TypeReflect:
		return "Would you like to reflect on what you just learned?"
	case agent.TypePath:
		return "Want a suggestion for where to go next?"
	}
	return string(t)
}

func loadingText(t agent.Type) string {
	switch t {
	case agent.TypeQuiz:
		return "Generating quiz questions…"
	case agent.TypePath:
		return "Finding your next step…"
	}
	return "Thinking…"
}

func feedbackText(q agent.QuizQuestion, answer int) string {
	var text string
	if answer == q.CorrectAnswer {
		text = "Correct!"
	} else {
		text = fmt.Sprintf("Not quite. The correct answer is %q.", q.Options[q.CorrectAnswer])
	}
	if q.Explanation != "" {
		text += " " + q.Explanation
	}
	return text
}
