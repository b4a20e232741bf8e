package ckptdir

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ckpterrors "github.com/randalmurphal/ckptdir/pkg/ckptdir/errors"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/metadata"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/observability"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

// TemporaryPath is the working location of one save to one final path.
// It is created by Create on every participant, written by the
// application, and turned into a visible checkpoint by Finalize on the
// coordinator.
//
// A TemporaryPath belongs to a single save. It is not safe for concurrent
// Create and Finalize calls.
type TemporaryPath struct {
	strategy Strategy
	st       storage.Storage
	location string
	final    string
	counter  int64
	role     Role

	store    metadata.Store
	fileOpts FileOptions
	mp       MultiprocessingOptions
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
}

// Strategy returns the strategy the path was derived with.
func (t *TemporaryPath) Strategy() Strategy { return t.strategy }

// Location returns the working location. It performs no I/O.
func (t *TemporaryPath) Location() string { return t.location }

// FinalLocation returns the final path. It performs no I/O.
func (t *TemporaryPath) FinalLocation() string { return t.final }

// Counter returns the disambiguation value the path was derived with.
func (t *TemporaryPath) Counter() int64 { return t.counter }

// Role returns the role the path acts under.
func (t *TemporaryPath) Role() Role { return t.role }

// Logger returns the logger set with WithLogger, or nil.
func (t *TemporaryPath) Logger() *slog.Logger { return t.logger }

// String implements fmt.Stringer.
func (t *TemporaryPath) String() string {
	return fmt.Sprintf("%s(tmp=%q, final=%q)", t.strategy, storage.Base(t.location), t.final)
}

// Create makes the working location on the coordinator and returns it.
// On other processes it returns the location without touching storage;
// callers rely on the barrier around creation, see CreateAll.
//
// Create does not synchronize with other processes. Calling it directly
// from multi-process code races against concurrent existence checks.
func (t *TemporaryPath) Create(ctx context.Context, opts ...CreateOption) (string, error) {
	var co createOptions
	for _, opt := range opts {
		opt(&co)
	}
	if !t.role.IsCoordinator() {
		return t.location, nil
	}
	if err := t.sweepStale(ctx); err != nil {
		return "", err
	}
	if err := createDirectory(ctx, t, resolveMode(co.mode, t.fileOpts.PathPermissionMode)); err != nil {
		return "", err
	}
	return t.location, nil
}

// Finalize commits the save so that the final path becomes a complete
// checkpoint. It runs on the coordinator only, after every participant has
// finished writing. Failures are returned, never retried.
func (t *TemporaryPath) Finalize(ctx context.Context) (err error) {
	if !t.role.IsCoordinator() {
		return ErrNotCoordinator
	}

	start := time.Now()
	ctx, span := t.spans.StartFinalizeSpan(ctx, t.strategy.String(), t.final)
	defer func() {
		t.metrics.RecordCommit(ctx, t.strategy.String(), time.Since(start), err)
		t.spans.EndSpanWithError(span, err)
		if err != nil {
			observability.LogFinalizeError(t.logger, t.final, err)
		}
	}()

	observability.LogFinalizeStart(t.logger, t.location, t.final)

	if t.store != nil {
		metaPath := metadata.FilePath(t.location)
		if err := t.store.Drain(ctx); err != nil {
			return fmt.Errorf("drain step metadata before commit: %w", err)
		}
		if err := t.store.Update(ctx, metaPath, metadata.CommitAt(time.Now())); err != nil {
			return fmt.Errorf("record commit time: %w", err)
		}
		if err := t.store.Drain(ctx); err != nil {
			return fmt.Errorf("drain step metadata after commit: %w", err)
		}
		t.spans.AddSpanEvent(ctx, "metadata_committed")
	}

	switch t.strategy {
	case Rename:
		if err := t.st.Rename(ctx, t.location, t.final); err != nil {
			return ckpterrors.Storage("rename", t.location, err)
		}
	case Sentinel:
		marker := storage.Join(t.final, CommitSuccessFile)
		if err := t.st.WriteText(ctx, marker, "Checkpoint commit was successful to "+t.final); err != nil {
			return ckpterrors.Storage("write", marker, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, t.strategy)
	}
	return nil
}
