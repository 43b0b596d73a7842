package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashureev/vidsync-labs/internal/agent"
)

// startQuiz fetches questions and shows the first one. Generation failures
// fall back to the builtin questions.
func (o *Orchestrator) startQuiz(ctx context.Context, prompt Message) error {
	quizID := uuid.NewString()
	var loadingID string
	o.update(func(c *SystemContext) {
		loadingID = o.activate(c, prompt, loadingText(agent.TypeQuiz), quizID)
	})

	res, err := o.generate(ctx, agent.TypeQuiz, prompt.VideoTime)
	if err == nil && res.RateLimited {
		o.update(func(c *SystemContext) {
			o.rollbackRateLimited(c, prompt, loadingID, res.UpgradeMessage)
		})
		return nil
	}

	questions := validQuestions(res.Questions, o.cfg.QuestionCount)
	if err != nil || len(questions) == 0 {
		o.log.Warn("quiz generation failed, using builtin questions", "error", err)
		questions = validQuestions(agent.BuiltinQuestions(), o.cfg.QuestionCount)
	}

	state := QuizState{
		Questions:   questions,
		UserAnswers: make([]*int, len(questions)),
	}
	o.update(func(c *SystemContext) {
		replaceMessage(c, loadingID, o.questionMessage(quizID, state, prompt.VideoTime))
	})
	return nil
}

func validQuestions(qs []agent.QuizQuestion, limit int) []agent.QuizQuestion {
	out := make([]agent.QuizQuestion, 0, len(qs))
	for _, q := range qs {
		if q.Valid() {
			out = append(out, cloneQuestion(q))
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (o *Orchestrator) questionMessage(quizID string, state QuizState, at float64) Message {
	q := state.Questions[state.CurrentQuestionIndex]
	m := o.newMessage(MessageQuizQuestion, MessageActivated,
		fmt.Sprintf("Question %d of %d: %s", state.CurrentQuestionIndex+1, len(state.Questions), q.Question), at)
	m.AgentType = agent.TypeQuiz
	m.QuizID = quizID
	m.QuizData = &QuizData{Question: cloneQuestion(q), State: state.clone()}
	return m
}

func (o *Orchestrator) handleQuizAnswer(a QuizAnswer) error {
	if o.state.Agent.ActiveType != agent.TypeQuiz {
		return nil
	}
	i := o.state.lastMessage(MessageQuizQuestion)
	if i < 0 {
		return nil
	}
	current := o.state.Messages[i]
	qs := current.QuizData.State.clone()
	if qs.IsComplete || a.QuestionIndex != qs.CurrentQuestionIndex {
		o.log.Debug("ignoring stale quiz answer", "question_index", a.QuestionIndex, "current", qs.CurrentQuestionIndex)
		return nil
	}
	q := qs.Questions[qs.CurrentQuestionIndex]
	if a.AnswerIndex < 0 || a.AnswerIndex >= len(q.Options) {
		o.log.Warn("ignoring out of range quiz answer", "answer_index", a.AnswerIndex, "options", len(q.Options))
		return nil
	}

	answer := a.AnswerIndex
	qs.UserAnswers[qs.CurrentQuestionIndex] = &answer
	if answer == q.CorrectAnswer {
		qs.Score++
	}

	if qs.CurrentQuestionIndex+1 < len(qs.Questions) {
		qs.CurrentQuestionIndex++
		o.update(func(c *SystemContext) {
			feedback := o.newMessage(MessageAI, MessageActivated, feedbackText(q, answer), current.VideoTime)
			feedback.AgentType = agent.TypeQuiz
			feedback.QuizID = current.QuizID
			c.removeMessages(func(m Message) bool { return m.ID == current.ID })
			c.Messages = append(c.Messages, feedback, o.questionMessage(current.QuizID, qs, current.VideoTime))
		})
		return nil
	}

	qs.IsComplete = true
	result := quizResult(qs)
	o.update(func(c *SystemContext) {
		c.removeMessages(func(m Message) bool { return m.QuizID == current.QuizID })

		done := o.newMessage(MessageSystem, MessagePermanent,
			fmt.Sprintf("Quiz complete! You scored %d/%d.", result.Score, result.Total), current.VideoTime)
		summary := o.newMessage(MessageAI, MessagePermanent, quizSummaryText(result), current.VideoTime)
		summary.AgentType = agent.TypeQuiz
		summary.QuizResult = &result
		c.Messages = append(c.Messages, done, summary)

		// activeType stays quiz until the countdown resumes playback.
		o.startCountdown(c, agent.TypeQuiz, current.VideoTime)
	})
	return nil
}

func quizResult(qs QuizState) QuizResult {
	r := QuizResult{Score: qs.Score, Total: len(qs.Questions), Review: make([]QuizReview, len(qs.Questions))}
	for i, q := range qs.Questions {
		user := -1
		if qs.UserAnswers[i] != nil {
			user = *qs.UserAnswers[i]
		}
		r.Review[i] = QuizReview{
			Question:      q.Question,
			Options:       append([]string(nil), q.Options...),
			CorrectAnswer: q.CorrectAnswer,
			UserAnswer:    user,
			Correct:       user == q.CorrectAnswer,
			Explanation:   q.Explanation,
		}
	}
	return r
}

func quizSummaryText(r QuizResult) string {
	switch {
	case r.Score == r.Total:
		return "Perfect score. You clearly understood this section."
	case r.Score*2 >= r.Total:
		return "Nice work. Review the questions you missed before moving on."
	default:
		return "This section may be worth another look. Check the review below."
	}
}
