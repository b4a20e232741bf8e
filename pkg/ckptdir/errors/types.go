package errors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrAlreadyExists indicates a working location exists and is not
// recognizable as an incomplete checkpoint.
var ErrAlreadyExists = errors.New("already exists and is not a temporary checkpoint")

// PreconditionError reports that a save cannot start because storage is in
// an unexpected state. It is never retried.
type PreconditionError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *PreconditionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("precondition failed for %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("precondition failed for %s", e.Path)
}

// Unwrap returns ErrAlreadyExists so callers can match with errors.Is.
func (e *PreconditionError) Unwrap() error {
	return ErrAlreadyExists
}

// BarrierTimeoutError indicates one or more participants did not reach a
// rendezvous point in time.
type BarrierTimeoutError struct {
	Key     string
	Timeout time.Duration
	// Missing lists the process indices that never arrived, when known.
	Missing []int
}

// Error implements the error interface.
func (e *BarrierTimeoutError) Error() string {
	msg := fmt.Sprintf("barrier %q timed out after %s", e.Key, e.Timeout)
	if len(e.Missing) > 0 {
		missing := append([]int(nil), e.Missing...)
		sort.Ints(missing)
		parts := make([]string, len(missing))
		for i, p := range missing {
			parts[i] = fmt.Sprint(p)
		}
		msg += " waiting for processes [" + strings.Join(parts, ",") + "]"
	}
	return msg
}

// Unwrap returns context.DeadlineExceeded.
func (e *BarrierTimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// StorageError wraps a failed storage operation.
type StorageError struct {
	// Op is the storage operation ("exists", "mkdir", "remove", "rename", "write", "read", "list").
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Storage wraps err as a StorageError. Returns nil when err is nil.
func Storage(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Path: path, Err: err}
}
