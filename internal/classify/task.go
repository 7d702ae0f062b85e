package classify

import (
	"context"
	"sync"
	"time"
)

type State int32

const (
	StatePending State = iota
	StateResolved
	StateTimedOut
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Task is one wait for a classification. It owns a single ticker; success,
// either timeout and cancellation all go through finish, which stops the
// ticker exactly once.
type Task struct {
	token  string
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	ticker *time.Ticker
}

func newTask(ctx context.Context, token string) *Task {
	ctx, cancel := context.WithCancel(ctx)

	return &Task{
		token:  token,
		ctx:    ctx,
		cancel: cancel,
		state:  StatePending,
	}
}

func (t *Task) Token() string {
	return t.token
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// Cancel aborts a pending task. It reports whether the task was still pending.
func (t *Task) Cancel() bool {
	return t.finish(StateCancelled)
}

// startTicker starts the poll ticker unless the task is already finished.
func (t *Task) startTicker(interval time.Duration) (<-chan time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StatePending {
		return nil, false
	}

	t.ticker = time.NewTicker(interval)

	return t.ticker.C, true
}

func (t *Task) finish(state State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StatePending {
		return false
	}

	t.state = state

	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}

	t.cancel()

	return true
}
