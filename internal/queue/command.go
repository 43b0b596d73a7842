// Package queue runs interaction commands strictly one at a time.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the handler a command is routed to.
type Type string

// Status tracks a command through the queue.
type Status string

const (
	// StatusPending means the command is waiting for the execution slot.
	StatusPending Status = "pending"
	// StatusRunning means the command currently owns the execution slot.
	StatusRunning Status = "running"
	// StatusDone means the handler returned without error.
	StatusDone Status = "done"
	// StatusFailed means every attempt failed and the command was dropped.
	StatusFailed Status = "failed"
)

// Command is a queued, retryable unit of work derived from one action.
type Command struct {
	ID          string
	Type        Type
	Payload     any
	Timestamp   time.Time
	Attempts    int
	MaxAttempts int
	Status      Status
	LastError   string
}

// NewCommand builds a pending command. maxAttempts below 1 is treated as 1.
func NewCommand(cmdType Type, payload any, maxAttempts int) *Command {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Command{
		ID:          uuid.NewString(),
		Type:        cmdType,
		Payload:     payload,
		Timestamp:   time.Now(),
		MaxAttempts: maxAttempts,
		Status:      StatusPending,
	}
}

// RetriesLeft reports whether a failure of the current attempt would be retried.
func (c *Command) RetriesLeft() bool {
	return c.Attempts < c.MaxAttempts
}
