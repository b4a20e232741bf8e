package ckptdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir/barrier"
	ckpterrors "github.com/randalmurphal/ckptdir/pkg/ckptdir/errors"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/metadata"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/observability"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

// createDirectory makes t's working location on the coordinator.
// An existing location is removed if it is an unfinished save and is
// otherwise a PreconditionError.
func createDirectory(ctx context.Context, t *TemporaryPath, mode fs.FileMode) error {
	loc := t.location
	exists, err := t.st.Exists(ctx, loc)
	if err != nil {
		return ckpterrors.Storage("exists", loc, err)
	}
	if exists {
		incomplete, err := t.strategy.IsIncomplete(ctx, t.st, loc)
		if err == nil && incomplete && t.strategy == Sentinel {
			// On atomic-rename storage a finalized Rename checkpoint also
			// lacks CommitSuccessFile.
			incomplete, err = IsTmpCheckpoint(ctx, t.st, loc)
		}
		if err != nil {
			return ckpterrors.Storage("exists", loc, err)
		}
		if !incomplete {
			return &ckpterrors.PreconditionError{
				Path:   loc,
				Reason: "exists but is not an unfinished checkpoint",
			}
		}
		if err := t.removeStale(ctx, loc); err != nil {
			return err
		}
	}

	observability.LogCreateDirectory(t.logger, loc, t.strategy.String())
	err = t.st.MakeDirs(ctx, loc, storage.MkdirOptions{Parents: true, FailIfExists: true, Mode: mode})
	switch {
	case errors.Is(err, storage.ErrExist):
		return &ckpterrors.PreconditionError{Path: loc, Reason: "created concurrently by another writer"}
	case err != nil:
		return ckpterrors.Storage("mkdir", loc, err)
	}

	if t.store != nil {
		if err := t.store.Write(ctx, metadata.FilePath(loc), metadata.New(time.Now())); err != nil {
			return fmt.Errorf("queue step metadata for %s: %w", loc, err)
		}
	}
	return nil
}

// sweepStale removes unfinished siblings left for the same final path by
// earlier runs whose counter differed from t's.
func (t *TemporaryPath) sweepStale(ctx context.Context) error {
	parent := storage.Dir(t.final)
	names, err := t.st.List(ctx, parent)
	if errors.Is(err, storage.ErrNotExist) {
		return nil
	}
	if err != nil {
		return ckpterrors.Storage("list", parent, err)
	}
	for _, name := range names {
		candidate := storage.Join(parent, name)
		if candidate == t.location || !t.strategy.Matches(candidate, t.final) {
			continue
		}
		incomplete, err := t.strategy.IsIncomplete(ctx, t.st, candidate)
		if err != nil {
			return ckpterrors.Storage("exists", candidate, err)
		}
		if incomplete {
			if err := t.removeStale(ctx, candidate); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *TemporaryPath) removeStale(ctx context.Context, p string) error {
	observability.LogStaleRecovered(t.logger, p)
	t.metrics.RecordStaleRecovered(ctx, t.strategy.String())
	if err := t.st.RemoveAll(ctx, p); err != nil {
		return ckpterrors.Storage("remove", p, err)
	}
	return nil
}

// BarrierKey builds a barrier key unique to one rendezvous of one save.
func BarrierKey(name, prefix, suffix string) string {
	key := name
	if prefix != "" {
		key = prefix + "_" + key
	}
	if suffix != "" {
		key += "." + suffix
	}
	return key
}

// saveSuffix identifies a save in barrier keys.
func saveSuffix(t *TemporaryPath) string {
	return fmt.Sprintf("%s.%d", storage.Base(t.final), t.counter)
}

// CreateAll creates the working locations of one save step on every
// participant. All participants meet at a barrier before anything is
// checked or created and again after the coordinator has created every
// location, so no process starts writing into a location that does not
// exist yet. A barrier timeout fails the save for every participant; it
// is never retried here.
func CreateAll(ctx context.Context, b barrier.Barrier, paths []*TemporaryPath, mp MultiprocessingOptions) (err error) {
	if len(paths) == 0 {
		return ErrNoPaths
	}
	first := paths[0]
	start := time.Now()
	suffix := saveSuffix(first)
	preKey := BarrierKey("create_tmp_directory:pre", mp.BarrierKeyPrefix, suffix)
	postKey := BarrierKey("create_tmp_directory:post", mp.BarrierKeyPrefix, suffix)

	ctx, span := first.spans.StartCreateSpan(ctx, preKey, len(paths))
	defer func() {
		first.metrics.RecordDirectoryCreation(ctx, len(paths), time.Since(start), err)
		first.spans.EndSpanWithError(span, err)
	}()

	if err := b.Sync(ctx, preKey, mp.timeout(), mp.Participants); err != nil {
		return fmt.Errorf("before creating %s: %w", first.final, err)
	}
	first.spans.AddSpanEvent(ctx, "pre_barrier_passed")

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range paths {
		g.Go(func() error {
			_, err := p.Create(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := b.Sync(ctx, postKey, mp.timeout(), mp.Participants); err != nil {
		return fmt.Errorf("after creating %s: %w", first.final, err)
	}
	return nil
}
