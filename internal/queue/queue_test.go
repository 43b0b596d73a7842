package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.WaitIdle(ctx); err != nil {
		t.Fatalf("queue did not become idle: %v", err)
	}
}

func TestQueueExecutesInEnqueueOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []string
	q := New(func(_ context.Context, cmd *Command) error {
		mu.Lock()
		order = append(order, cmd.Payload.(string))
		mu.Unlock()
		return nil
	}, Options{})
	defer q.Close()

	for _, p := range []string{"a", "b", "c", "d"} {
		if err := q.Enqueue(NewCommand("test", p, 1)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c", "d"}
	if len(order) != len(want) {
		t.Fatalf("expected %d executions, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestQueueNeverRunsConcurrently(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight int32
	q := New(func(_ context.Context, _ *Command) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	}, Options{})
	defer q.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_ = q.Enqueue(NewCommand("test", j, 1))
			}
		}()
	}
	wg.Wait()
	waitIdle(t, q)

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("expected at most one command in flight, saw %d", got)
	}
}

func TestQueueRetryKeepsSlot(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var log []string
	failures := 2
	q := New(func(_ context.Context, cmd *Command) error {
		mu.Lock()
		defer mu.Unlock()
		log = append(log, cmd.Payload.(string))
		if cmd.Payload == "accept" && failures > 0 {
			failures--
			return errors.New("transient")
		}
		return nil
	}, Options{})
	defer q.Close()

	accept := NewCommand("accept", "accept", 3)
	_ = q.Enqueue(accept)
	_ = q.Enqueue(NewCommand("reject", "reject", 1))
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"accept", "accept", "accept", "reject"}
	if len(log) != len(want) {
		t.Fatalf("unexpected execution log %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("execution %d = %q, want %q (log %v)", i, log[i], want[i], log)
		}
	}
	if accept.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", accept.Attempts)
	}
	if accept.Status != StatusDone {
		t.Fatalf("expected done status, got %s", accept.Status)
	}
}

func TestQueueReportsExhaustedCommand(t *testing.T) {
	t.Parallel()

	var failed *Command
	var failedErr error
	var retries int
	q := New(func(_ context.Context, _ *Command) error {
		return errors.New("pause rejected")
	}, Options{
		OnRetry: func(_ *Command, _ error) { retries++ },
		OnFailure: func(cmd *Command, err error) {
			failed = cmd
			failedErr = err
		},
	})
	defer q.Close()

	cmd := NewCommand("set-in", nil, 3)
	_ = q.Enqueue(cmd)
	waitIdle(t, q)

	if failed != cmd {
		t.Fatal("expected failure hook to receive the command")
	}
	if failedErr == nil || failedErr.Error() != "pause rejected" {
		t.Fatalf("unexpected failure error: %v", failedErr)
	}
	if cmd.Attempts != 3 || retries != 2 {
		t.Fatalf("expected 3 attempts and 2 retries, got %d and %d", cmd.Attempts, retries)
	}
	if cmd.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", cmd.Status)
	}
}

func TestQueueEnqueueAfterClose(t *testing.T) {
	t.Parallel()

	q := New(func(_ context.Context, _ *Command) error { return nil }, Options{})
	q.Close()

	if err := q.Enqueue(NewCommand("test", nil, 1)); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	// Second Close must not block or panic.
	q.Close()
}

func TestNewCommandClampsAttempts(t *testing.T) {
	cmd := NewCommand("test", nil, 0)
	if cmd.MaxAttempts != 1 {
		t.Fatalf("expected MaxAttempts=1, got %d", cmd.MaxAttempts)
	}
	if cmd.ID == "" || cmd.Status != StatusPending {
		t.Fatalf("unexpected command %+v", cmd)
	}
}
