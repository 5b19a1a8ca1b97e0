// Package taskstore tracks the terminal state of background tasks until a
// poller consumes it.
//
// Only terminal states are ever stored: a task that is absent is pending,
// whether its worker is still running, it was never issued, or its result
// has already been consumed.
package taskstore

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

// Task statuses.
const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	// ErrNotTerminal is returned when a non-terminal view is written.
	ErrNotTerminal = errors.New("task state is not terminal")
	// ErrAlreadyTerminal is returned when a task's terminal state is written twice.
	ErrAlreadyTerminal = errors.New("task already has a terminal state")
	// ErrMissingID is returned for views without a task id.
	ErrMissingID = errors.New("task id is required")
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// View is what a poller sees of a task.
type View struct {
	ID         string    `json:"task_id"`
	Status     Status    `json:"status"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Pending is the view of a task without a stored terminal state.
func Pending(id string) View {
	return View{ID: id, Status: StatusPending}
}

// Completed builds the terminal view of a successful task.
func Completed(id, result string, at time.Time) View {
	return View{ID: id, Status: StatusCompleted, Result: result, FinishedAt: at}
}

// Failed builds the terminal view of a failed task.
func Failed(id string, cause error, at time.Time) View {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return View{ID: id, Status: StatusFailed, Error: msg, FinishedAt: at}
}

// Store is the shared task table. Implementations serialize their own
// operations and are safe for concurrent use.
type Store interface {
	// Get returns the stored view without consuming it.
	Get(ctx context.Context, id string) (View, bool, error)
	// SetTerminal records the terminal state of view.ID exactly once.
	SetTerminal(ctx context.Context, view View) error
	// TakeIfTerminal atomically returns and removes a terminal view.
	TakeIfTerminal(ctx context.Context, id string) (View, bool, error)
}

// Sweeper is implemented by stores that need explicit eviction of results
// that were never polled.
type Sweeper interface {
	Sweep(olderThan time.Duration) int
}

func checkTerminal(view View) error {
	if view.ID == "" {
		return ErrMissingID
	}
	if !view.Status.Terminal() {
		return ErrNotTerminal
	}
	return nil
}
