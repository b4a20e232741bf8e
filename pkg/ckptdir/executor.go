package ckptdir

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Executor runs background tasks, such as the commit of a save, and keeps
// track of them so they can be awaited or cancelled.
type Executor struct {
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	tasks  map[*Task]struct{}
	wg     sync.WaitGroup
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger for task failures.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{tasks: make(map[*Task]struct{})}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Task is a handle on one submitted function.
type Task struct {
	name   string
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// Name returns the name the task was submitted with.
func (t *Task) Name() string { return t.name }

// Done returns a channel closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's error once it has finished, and nil before.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes and returns its error, or returns
// ctx's error if ctx is done first. The task keeps running in that case.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel cancels the context the task runs with.
func (t *Task) Cancel() {
	t.cancel()
}

func failedTask(name string, err error) *Task {
	t := &Task{name: name, done: make(chan struct{}), err: err, cancel: func() {}}
	close(t.done)
	return t
}

// Submit starts fn in a new goroutine with a context derived from ctx.
// After Close or Shutdown it returns a task that already failed with
// ErrExecutorClosed.
func (e *Executor) Submit(ctx context.Context, name string, fn func(ctx context.Context) error) *Task {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return failedTask(name, ErrExecutorClosed)
	}
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{name: name, done: make(chan struct{}), cancel: cancel}
	e.tasks[t] = struct{}{}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.tasks, t)
			e.mu.Unlock()
			cancel()
			close(t.done)
		}()
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("%w: %s: %v", ErrTaskPanicked, name, r)
				if e.logger != nil {
					e.logger.Error("task panicked",
						slog.String("task", name),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
				}
			}
		}()

		t.err = fn(taskCtx)
		if t.err != nil && e.logger != nil {
			e.logger.Warn("task failed",
				slog.String("task", name),
				slog.String("error", t.err.Error()),
			)
		}
	}()
	return t
}

// Pending returns the number of running tasks.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

// Close stops accepting tasks and waits for running ones to finish.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

// Shutdown stops accepting tasks, cancels running ones and waits for them
// to return.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	e.closed = true
	for t := range e.tasks {
		t.cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}
