package ckptdir

import (
	"context"
	"time"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir/observability"
)

// OnCommit finalizes t and records how long the save took, measured from
// start. It runs on the coordinator once all participants have written.
func OnCommit(ctx context.Context, t *TemporaryPath, start time.Time) error {
	if err := t.Finalize(ctx); err != nil {
		return err
	}
	elapsed := time.Since(start)
	t.metrics.RecordSaveDuration(ctx, elapsed)
	observability.LogFinalized(t.logger, t.final, float64(elapsed.Microseconds())/1000)
	return nil
}
