package agent

import (
	"context"
	"fmt"
	"math"
)

// DefaultText is the fallback response for a one-shot agent when
// generation fails.
func DefaultText(t Type) string {
	switch t {
	case TypeHint:
		return "Take a moment to think about what was just explained. Try restating it in your own words before moving on."
	case TypePath:
		return "You are making good progress. Finish this video, then review the key points before starting the next lesson."
	case TypeReflect:
		return "Think about how this connects to what you already know."
	default:
		return "Keep going, you are doing well."
	}
}

// Canned is an offline generator. It never rate limits and never fails for
// a known agent type.
type Canned struct {
	bank *QuizBank
}

// NewCanned returns a canned generator drawing quiz questions from bank.
// A nil bank uses the builtin questions.
func NewCanned(bank *QuizBank) *Canned {
	if bank == nil {
		bank = NewQuizBank(nil)
	}
	return &Canned{bank: bank}
}

// Generate implements Generator.
func (c *Canned) Generate(_ context.Context, req Request) (Result, error) {
	switch req.AgentType {
	case TypeQuiz:
		return Result{Questions: c.bank.Questions(req.VideoID, req.QuestionCount)}, nil
	case TypeHint:
		return Result{Text: fmt.Sprintf("%s (around %s)", DefaultText(TypeHint), clock(req.VideoTimestamp))}, nil
	case TypePath, TypeReflect:
		return Result{Text: DefaultText(req.AgentType)}, nil
	}
	return Result{}, fmt.Errorf("canned generator: unknown agent type %q", req.AgentType)
}

func clock(seconds float64) string {
	s := int(math.Floor(math.Max(seconds, 0)))
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
