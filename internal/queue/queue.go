package queue

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("command queue closed")

// Executor runs a single attempt of a command.
type Executor func(ctx context.Context, cmd *Command) error

// Options configures a Queue.
type Options struct {
	// RetryDelay is the base backoff before the first retry; it doubles per attempt.
	RetryDelay time.Duration
	// OnRetry is called before a failed command is retried.
	OnRetry func(cmd *Command, err error)
	// OnFailure is called once a command has exhausted its attempts.
	OnFailure func(cmd *Command, err error)
	// OnDone is called after every command leaves the execution slot.
	OnDone func(cmd *Command, elapsed time.Duration)
	Logger *slog.Logger
}

// Queue executes commands in enqueue order on a single worker goroutine.
// A command being retried keeps the execution slot, so later commands never
// overtake it.
type Queue struct {
	exec Executor
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	pending *list.List
	running bool
	closed  bool
	idle    chan struct{} // closed while nothing is pending or running

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a queue and starts its worker.
func New(exec Executor, opts Options) *Queue {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		exec:    exec,
		opts:    opts,
		log:     logger,
		pending: list.New(),
		idle:    idle,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue appends cmd to the queue. It never blocks on execution.
func (q *Queue) Enqueue(cmd *Command) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	cmd.Status = StatusPending
	q.pending.PushBack(cmd)
	q.markBusyLocked()
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of commands waiting for the execution slot.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// WaitIdle blocks until no command is pending or running.
func (q *Queue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting commands, lets the in-flight command finish and
// discards whatever is still pending.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	<-q.done
}

func (q *Queue) markBusyLocked() {
	select {
	case <-q.idle:
		q.idle = make(chan struct{})
	default:
	}
}

func (q *Queue) markIdleLocked() {
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		cmd, ok := q.next()
		if !ok {
			return
		}
		start := time.Now()
		q.execute(cmd)
		if q.opts.OnDone != nil {
			q.opts.OnDone(cmd, time.Since(start))
		}

		q.mu.Lock()
		q.running = false
		if q.pending.Len() == 0 {
			q.markIdleLocked()
		}
		q.mu.Unlock()
	}
}

func (q *Queue) next() (*Command, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			if n := q.pending.Len(); n > 0 {
				q.log.Warn("command queue closed with pending commands", "discarded", n)
				q.pending.Init()
			}
			q.markIdleLocked()
			q.mu.Unlock()
			return nil, false
		}
		if front := q.pending.Front(); front != nil {
			q.pending.Remove(front)
			q.running = true
			q.mu.Unlock()
			return front.Value.(*Command), true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
		}
	}
}

func (q *Queue) execute(cmd *Command) {
	for {
		cmd.Attempts++
		cmd.Status = StatusRunning

		err := q.exec(q.ctx, cmd)
		if err == nil {
			cmd.Status = StatusDone
			return
		}
		cmd.LastError = err.Error()

		if !cmd.RetriesLeft() || q.ctx.Err() != nil {
			cmd.Status = StatusFailed
			q.log.Error("command dropped after exhausting attempts",
				"command_id", cmd.ID,
				"command_type", cmd.Type,
				"attempts", cmd.Attempts,
				"error", err,
			)
			if q.opts.OnFailure != nil {
				q.opts.OnFailure(cmd, err)
			}
			return
		}

		delay := q.opts.RetryDelay * time.Duration(1<<(cmd.Attempts-1))
		q.log.Warn("command failed, retrying",
			"command_id", cmd.ID,
			"command_type", cmd.Type,
			"attempt", cmd.Attempts,
			"max_attempts", cmd.MaxAttempts,
			"delay", delay,
			"error", err,
		)
		if q.opts.OnRetry != nil {
			q.opts.OnRetry(cmd, err)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-q.ctx.Done():
				timer.Stop()
			}
		}
	}
}
