package messaging

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/panjf2000/ants/v2"
)

const defaultPoolSize = 16

// Task is a unit of work run by the TaskExecutor
type Task func(ctx context.Context) error

// TaskExecutor runs tasks on a bounded goroutine pool. Errors returned by a
// task and panics raised by it are passed to the error handler.
type TaskExecutor struct {
	pool         *ants.Pool
	errorHandler ErrorHandler
	logger       *slog.Logger
	metrics      *Metrics
	size         int
	nonblocking  bool

	// mu orders wg.Add in Execute against wg.Wait in Shutdown
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// ExecutorOption configures the TaskExecutor
type ExecutorOption func(*TaskExecutor)

// WithPoolSize sets the maximum number of concurrently running tasks
func WithPoolSize(size int) ExecutorOption {
	return func(e *TaskExecutor) {
		e.size = size
	}
}

// WithNonblocking makes Execute fail instead of waiting when the pool is full
func WithNonblocking(nonblocking bool) ExecutorOption {
	return func(e *TaskExecutor) {
		e.nonblocking = nonblocking
	}
}

// WithExecutorErrorHandler sets where task failures go
func WithExecutorErrorHandler(handler ErrorHandler) ExecutorOption {
	return func(e *TaskExecutor) {
		e.errorHandler = handler
	}
}

// WithExecutorLogger sets the logger
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *TaskExecutor) {
		e.logger = logger
	}
}

// WithExecutorMetrics records task outcomes
func WithExecutorMetrics(metrics *Metrics) ExecutorOption {
	return func(e *TaskExecutor) {
		e.metrics = metrics
	}
}

// NewTaskExecutor creates an executor. Without an error handler, failures
// are only logged.
func NewTaskExecutor(options ...ExecutorOption) (*TaskExecutor, error) {
	e := &TaskExecutor{
		logger: slog.Default(),
		size:   defaultPoolSize,
	}

	for _, opt := range options {
		opt(e)
	}

	if e.errorHandler == nil {
		e.errorHandler = NewPublishingErrorHandler(WithLogger(e.logger), WithMetrics(e.metrics))
	}

	pool, err := ants.NewPool(e.size, ants.WithNonblocking(e.nonblocking))
	if err != nil {
		return nil, err
	}
	e.pool = pool

	return e, nil
}

// Execute submits task to the pool
func (e *TaskExecutor) Execute(ctx context.Context, task Task) error {
	if task == nil {
		return ErrNilTask
	}
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		e.metrics.recordTask("rejected")
		return &SubmitError{Err: ErrExecutorClosed}
	}
	e.wg.Add(1)
	e.mu.RUnlock()

	err := e.pool.Submit(func() {
		defer e.wg.Done()
		e.run(ctx, task)
	})
	if err != nil {
		e.wg.Done()
		e.metrics.recordTask("rejected")
		if errors.Is(err, ants.ErrPoolClosed) {
			return &SubmitError{Err: ErrExecutorClosed}
		}
		return &SubmitError{Err: err}
	}
	return nil
}

func (e *TaskExecutor) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.recordTask("panicked")
			e.errorHandler.Handle(&PanicError{Value: r, Stack: debug.Stack()})
		}
	}()

	if err := task(ctx); err != nil {
		e.metrics.recordTask("failed")
		e.errorHandler.Handle(err)
		return
	}
	e.metrics.recordTask("succeeded")
}

// ErrorHandler returns the handler receiving task failures
func (e *TaskExecutor) ErrorHandler() ErrorHandler {
	return e.errorHandler
}

// Running returns the number of tasks currently running
func (e *TaskExecutor) Running() int {
	return e.pool.Running()
}

// Shutdown stops accepting tasks and waits for submitted ones until ctx is
// done, then releases the pool
func (e *TaskExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		e.logger.Warn("executor shutdown timed out", "running", e.pool.Running())
	}

	e.pool.Release()
	return err
}
