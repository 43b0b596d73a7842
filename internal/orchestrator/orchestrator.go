package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/vidsync-labs/internal/agent"
	"github.com/ashureev/vidsync-labs/internal/queue"
	"github.com/ashureev/vidsync-labs/internal/reflection"
	"github.com/ashureev/vidsync-labs/internal/video"
)

// Config wires an Orchestrator to its collaborators.
type Config struct {
	UserID    string
	SessionID string

	Generator   agent.Generator
	Reflections reflection.Saver
	Transcript  agent.ConversationLogger
	Metrics     *Metrics
	Clock       Clock
	Logger      *slog.Logger

	// CountdownSeconds is the number of one-second ticks before playback
	// resumes after a quiz or reflection. Defaults to 3.
	CountdownSeconds int
	// QuestionCount is the number of quiz questions requested. Defaults to 3.
	QuestionCount int
	// RetryDelay is the base backoff between command attempts.
	RetryDelay time.Duration

	// Initial restores a previously persisted context.
	Initial *SystemContext
}

// Orchestrator owns one SystemContext. Every mutation runs inside a command
// handler on the queue's single worker; readers only ever see deep copies.
type Orchestrator struct {
	cfg   Config
	log   *slog.Logger
	clock Clock
	q     *queue.Queue

	mu      sync.RWMutex
	state   SystemContext
	subs    map[int]func(SystemContext)
	nextSub int
	video   video.Controller

	// Owned by the queue worker.
	processed    map[string]struct{}
	countdown    *countdown
	countdownSeq int
}

// New builds an orchestrator and starts its command queue.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.CountdownSeconds <= 0 {
		cfg.CountdownSeconds = 3
	}
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = 3
	}
	if cfg.Transcript == nil {
		cfg.Transcript = agent.NopConversationLogger{}
	}

	o := &Orchestrator{
		cfg:       cfg,
		log:       cfg.Logger.With("user_id", cfg.UserID, "session_id", cfg.SessionID),
		clock:     cfg.Clock,
		subs:      make(map[int]func(SystemContext)),
		processed: make(map[string]struct{}),
		state:     InitialContext(),
	}
	if cfg.Initial != nil {
		o.state = restore(cfg.Initial.Clone())
	}

	o.q = queue.New(o.execute, queue.Options{
		RetryDelay: cfg.RetryDelay,
		Logger:     o.log,
		OnRetry: func(cmd *queue.Command, _ error) {
			cfg.Metrics.retried(cmd)
		},
		OnFailure: o.commandFailed,
		OnDone: func(cmd *queue.Command, elapsed time.Duration) {
			cfg.Metrics.executed(cmd, elapsed)
		},
	})
	return o
}

// restore makes a persisted context safe to resume: in-flight loading and
// countdown messages cannot be continued, so they are dropped along with
// the agent occupancy they implied.
func restore(c SystemContext) SystemContext {
	interrupted := false
	c.removeMessages(func(m Message) bool {
		if m.Type == MessageAILoading || m.Countdown > 0 {
			interrupted = true
			return true
		}
		return false
	})
	if interrupted || c.Agent.ActiveType == agent.TypeHint || c.Agent.ActiveType == agent.TypePath {
		c.Agent.ActiveType = ""
	}
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	if c.Errors == nil {
		c.Errors = []SystemError{}
	}
	c.Video.IsPlaying = false
	if c.State == StateVideoPlaying {
		c.State = StateVideoPaused
	}
	c.reconcileAgent()
	return c
}

// Dispatch enqueues the command for a. It never runs the handler
// synchronously.
func (o *Orchestrator) Dispatch(a Action) (string, error) {
	cmd := commandFor(a)
	if err := o.q.Enqueue(cmd); err != nil {
		return "", err
	}
	o.cfg.Metrics.dispatched(cmd)
	o.log.Debug("action dispatched", "action", a.Type(), "command_id", cmd.ID, "command_type", cmd.Type)
	return cmd.ID, nil
}

// Subscribe registers fn to receive a snapshot after every committed
// transition. Callbacks run on the worker goroutine and must not block.
func (o *Orchestrator) Subscribe(fn func(SystemContext)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}
}

// Context returns a deep copy of the current context.
func (o *Orchestrator) Context() SystemContext {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Clone()
}

// SetVideo attaches the video controller and records the video metadata.
// The controller is used by every command executed after the call.
func (o *Orchestrator) SetVideo(vc video.Controller, meta VideoMeta) error {
	o.mu.Lock()
	o.video = vc
	o.mu.Unlock()
	return o.q.Enqueue(queue.NewCommand(cmdSetVideo, meta, 1))
}

// WaitIdle blocks until every queued command has run.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	return o.q.WaitIdle(ctx)
}

// Close stops the countdown and the queue. Pending commands are discarded.
func (o *Orchestrator) Close() {
	o.q.Close()
	if cd := o.countdown; cd != nil && cd.timer != nil {
		cd.timer.Stop()
	}
}

func (o *Orchestrator) controller() video.Controller {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.video
}

// execute routes a command to its handler.
func (o *Orchestrator) execute(ctx context.Context, cmd *queue.Command) error {
	switch p := cmd.Payload.(type) {
	case ShowAgent:
		return o.handleShowAgent(ctx, p)
	case ManualPause:
		return o.handleManualPause(p)
	case Play:
		return o.handlePlay(p)
	case Accept:
		return o.handleAccept(ctx, p)
	case Reject:
		return o.handleReject(p)
	case QuizAnswer:
		return o.handleQuizAnswer(p)
	case ReflectionTypeChosen:
		return o.handleReflectionTypeChosen(p)
	case ReflectionSubmit:
		return o.handleReflectionSubmit(ctx, p)
	case ReflectionCancel:
		return o.handleReflectionCancel()
	case SetInPoint:
		return o.handleSetInPoint(ctx, cmd, p)
	case SetOutPoint:
		return o.handleSetOutPoint(ctx, cmd, p)
	case ClearSegment:
		return o.handleClearSegment()
	case SendSegmentToChat:
		return o.handleSendSegmentToChat()
	case RecordingStarted, RecordingPaused, RecordingResumed, RecordingStopped:
		return o.handleRecording(p.(Action))
	case ErrorDismissed:
		return o.handleErrorDismissed(p)
	case VideoMeta:
		return o.handleSetVideo(p)
	case countdownTick:
		return o.handleCountdownTick(p)
	}
	panic(fmt.Sprintf("orchestrator: no handler for command %s (%T)", cmd.Type, cmd.Payload))
}

// commandFailed records a dropped command as a SystemError.
func (o *Orchestrator) commandFailed(cmd *queue.Command, err error) {
	o.update(func(c *SystemContext) {
		c.Errors = append(c.Errors, SystemError{
			ID:        uuid.NewString(),
			Type:      ErrorCommandFailed,
			Message:   fmt.Sprintf("%s failed after %d attempts: %v", cmd.Type, cmd.Attempts, err),
			CommandID: cmd.ID,
			Timestamp: o.clock.Now(),
		})
	})
}

// update applies fn to a copy of the context and commits it. Only the
// queue worker calls update.
func (o *Orchestrator) update(fn func(c *SystemContext)) {
	next := o.state.Clone()
	fn(&next)
	next.reconcileAgent()
	o.commit(next)
}

func (o *Orchestrator) commit(next SystemContext) {
	prev := o.state
	next.Revision = prev.Revision + 1

	o.mu.Lock()
	o.state = next
	subs := make([]func(SystemContext), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	o.logTranscript(prev, next)
	for _, fn := range subs {
		fn(next.Clone())
	}
}

// logTranscript records messages that entered the context in this commit.
func (o *Orchestrator) logTranscript(prev, next SystemContext) {
	seen := make(map[string]struct{}, len(prev.Messages))
	for _, m := range prev.Messages {
		seen[m.ID] = struct{}{}
	}
	for _, m := range next.Messages {
		if _, ok := seen[m.ID]; ok || m.Type == MessageAILoading {
			continue
		}
		o.cfg.Transcript.Log(agent.ConversationLogEvent{
			UserID:      o.cfg.UserID,
			SessionID:   o.cfg.SessionID,
			Channel:     "interaction",
			Direction:   "outbound",
			EventType:   "message_added",
			MessageID:   m.ID,
			MessageType: string(m.Type),
			ContentRaw:  m.Message,
			Meta: map[string]any{
				"state":      string(m.State),
				"agent_type": string(m.AgentType),
				"video_time": m.VideoTime,
			},
		})
	}
}

func (o *Orchestrator) newMessage(t MessageType, state MessageState, text string, videoTime float64) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      t,
		State:     state,
		Message:   text,
		Timestamp: o.clock.Now(),
		VideoTime: videoTime,
	}
}

// pauseVideo asks the controller to pause. Callers decide whether a
// failure matters.
func (o *Orchestrator) pauseVideo(ctx context.Context) error {
	vc := o.controller()
	if vc == nil {
		return video.ErrNoClient
	}
	return vc.Pause(ctx)
}

// pauseBestEffort pauses and logs a failure without failing the command.
func (o *Orchestrator) pauseBestEffort(ctx context.Context, reason string) {
	if err := o.pauseVideo(ctx); err != nil {
		o.log.Warn("video pause failed, continuing", "reason", reason, "error", err)
	}
}

// videoTime prefers the time captured in the action, then the controller,
// then the last known position.
func (o *Orchestrator) videoTime(captured *float64) float64 {
	if captured != nil {
		return *captured
	}
	if vc := o.controller(); vc != nil {
		return vc.CurrentTime()
	}
	return o.state.Video.CurrentTime
}

func (o *Orchestrator) generate(ctx context.Context, t agent.Type, at float64) (agent.Result, error) {
	if o.cfg.Generator == nil {
		o.cfg.Metrics.generated(string(t), "unavailable")
		return agent.Result{}, agent.ErrNoGenerator
	}
	req := agent.Request{
		UserID:         o.cfg.UserID,
		SessionID:      o.cfg.SessionID,
		AgentType:      t,
		VideoTimestamp: at,
		VideoID:        o.state.Video.VideoID,
		CourseID:       o.state.Video.CourseID,
	}
	if t == agent.TypeQuiz {
		req.QuestionCount = o.cfg.QuestionCount
	}
	res, err := o.cfg.Generator.Generate(ctx, req)
	switch {
	case err != nil:
		o.cfg.Metrics.generated(string(t), "error")
	case res.RateLimited:
		o.cfg.Metrics.generated(string(t), "rate_limited")
	default:
		o.cfg.Metrics.generated(string(t), "ok")
	}
	return res, err
}
