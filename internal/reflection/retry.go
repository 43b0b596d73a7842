package reflection

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Retrying retries a Saver with exponential backoff. Validation errors are
// not retried.
type Retrying struct {
	next     Saver
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

// WithRetry wraps next. attempts below 2 are raised to 2.
func WithRetry(next Saver, attempts int, delay time.Duration, logger *slog.Logger) *Retrying {
	if attempts < 2 {
		attempts = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{next: next, attempts: attempts, delay: delay, logger: logger}
}

// Save implements Saver.
func (r *Retrying) Save(ctx context.Context, sub Submission) (Saved, error) {
	var err error
	for i := 0; i < r.attempts; i++ {
		var saved Saved
		saved, err = r.next.Save(ctx, sub)
		if err == nil {
			return saved, nil
		}
		if errors.Is(err, ErrInvalidSubmission) || errors.Is(err, ErrMediaTooLarge) || i == r.attempts-1 {
			break
		}

		delay := r.delay * time.Duration(1<<i)
		r.logger.Warn("reflection save failed, retrying",
			"user_id", sub.UserID,
			"attempt", i+1,
			"max_attempts", r.attempts,
			"delay", delay,
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Saved{}, ctx.Err()
		}
	}
	return Saved{}, err
}
