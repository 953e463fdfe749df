package framework

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCancelled marks an invocation stopped by the user. It is a terminal
	// state, not a failure.
	ErrCancelled = errors.New("cancelled by user")
	// ErrLoopLimitExceeded is returned when the iteration bound is reached
	// without a final answer.
	ErrLoopLimitExceeded = errors.New("loop limit exceeded")
	// ErrBusy rejects a new invocation while another one is running.
	ErrBusy = errors.New("another request is already running")
	// ErrUnknownTool is returned when dispatch is attempted for an unregistered name.
	ErrUnknownTool = errors.New("unknown tool")
)

// BackendError is the uniform failure for every model provider.
type BackendError struct {
	Provider string
	Status   int
	Message  string
}

func (e *BackendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s backend error %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s backend error: %s", e.Provider, e.Message)
}

// ToolExecutionError wraps a fault raised by a tool executor.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// IsCancellation reports whether err represents a user stop, including
// context cancellation surfacing from the transport layer.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
