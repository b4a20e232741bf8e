package ckptdir

import (
	"context"
	"errors"
	"log/slog"

	ckpterrors "github.com/randalmurphal/ckptdir/pkg/ckptdir/errors"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/observability"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

// CleanupTemporary removes every unfinished checkpoint directly under dir
// and returns the removed paths. Only the coordinator deletes; other
// processes get nil.
//
// Run it only while no save into dir is in flight, or an in-progress
// working location is indistinguishable from a crashed one.
func CleanupTemporary(ctx context.Context, st storage.Storage, dir string, role Role, logger *slog.Logger) ([]string, error) {
	if !role.IsCoordinator() {
		return nil, nil
	}
	names, err := st.List(ctx, dir)
	if errors.Is(err, storage.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, ckpterrors.Storage("list", dir, err)
	}

	var removed []string
	for _, name := range names {
		p := storage.Join(dir, name)
		tmp, err := IsTmpCheckpoint(ctx, st, p)
		if err != nil {
			return removed, ckpterrors.Storage("exists", p, err)
		}
		if !tmp {
			continue
		}
		observability.LogStaleRecovered(logger, p)
		if err := st.RemoveAll(ctx, p); err != nil {
			return removed, ckpterrors.Storage("remove", p, err)
		}
		removed = append(removed, p)
	}
	return removed, nil
}
