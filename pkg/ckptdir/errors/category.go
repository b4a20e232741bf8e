// Package errors classifies failures of the checkpoint commit protocol.
//
// The protocol itself never retries. Classification exists so that callers
// can decide whether restarting a whole save attempt, with a fresh
// disambiguation counter and therefore fresh barrier keys, is worthwhile.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how a failed save should be handled by its caller.
type Category int

const (
	// CategoryUnknown is used for errors the protocol did not produce.
	CategoryUnknown Category = iota

	// CategoryPrecondition indicates storage holds something the save must
	// not destroy. Restarting will fail the same way.
	CategoryPrecondition

	// CategoryBarrierTimeout indicates a participant missed a rendezvous.
	CategoryBarrierTimeout

	// CategoryStorage indicates an underlying I/O failure.
	CategoryStorage

	// CategoryCancelled indicates the caller cancelled the save.
	CategoryCancelled
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryPrecondition:
		return "precondition"
	case CategoryBarrierTimeout:
		return "barrier_timeout"
	case CategoryStorage:
		return "storage"
	case CategoryCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of save attempts that have been made.
	Attempts int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Categorize determines how an error should be handled.
// Barrier timeouts are checked before cancellation because they also
// unwrap to context.DeadlineExceeded.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var preErr *PreconditionError
	if errors.As(err, &preErr) || errors.Is(err, ErrAlreadyExists) {
		return CategoryPrecondition
	}

	var barrierErr *BarrierTimeoutError
	if errors.As(err, &barrierErr) {
		return CategoryBarrierTimeout
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryCancelled
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return CategoryStorage
	}

	return CategoryUnknown
}

// IsRestartable reports whether restarting the whole save attempt may help.
func IsRestartable(err error) bool {
	switch Categorize(err) {
	case CategoryBarrierTimeout, CategoryStorage:
		return true
	default:
		return false
	}
}

// IsPrecondition reports whether err is a precondition failure.
func IsPrecondition(err error) bool {
	return Categorize(err) == CategoryPrecondition
}

// IsBarrierTimeout reports whether err is a barrier timeout.
func IsBarrierTimeout(err error) bool {
	return Categorize(err) == CategoryBarrierTimeout
}
