package messaging

import (
	"errors"
	"fmt"
)

var (
	ErrNilTask        = errors.New("messaging: task must not be nil")
	ErrExecutorClosed = errors.New("messaging: executor is shut down")
	ErrPollerRunning  = errors.New("messaging: poller already running")
)

// PanicError carries a value recovered from a panicking task
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// SubmitError is returned when a task cannot be handed to the pool
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("failed to submit task: %v", e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}
