package ckptdir

import (
	"errors"
)

// Sentinel errors for the save protocol.
var (
	// ErrNoPaths indicates CreateAll or Save was called without any path.
	ErrNoPaths = errors.New("no checkpoint paths given")

	// ErrNotCoordinator indicates Finalize was called on a process that does
	// not coordinate the save.
	ErrNotCoordinator = errors.New("finalize must run on the coordinating process")

	// ErrUnknownStrategy indicates a strategy name could not be parsed.
	ErrUnknownStrategy = errors.New("unknown temporary path strategy")
)

// Sentinel errors for background tasks.
var (
	// ErrExecutorClosed indicates a task was submitted after Close or Shutdown.
	ErrExecutorClosed = errors.New("executor closed")

	// ErrTaskPanicked indicates a task function panicked.
	ErrTaskPanicked = errors.New("task panicked")
)
