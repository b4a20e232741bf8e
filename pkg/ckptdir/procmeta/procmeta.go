// Package procmeta records, per checkpoint step, how runtime process ids
// mapped onto distributed process ids and which devices took part. A
// restarted job compares the record with its current layout to decide
// whether the local checkpoint data it finds is still usable.
//
// Each process writes its own copy into storage only it reads, so every
// process acts as its own coordinator.
package procmeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir"
	ckpterrors "github.com/randalmurphal/ckptdir/pkg/ckptdir/errors"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

// File and folder names.
const (
	Folder             = "process_metadata"
	GlobalMetadataFile = "global_process_metadata.json"
	MeshMetadataFile   = "mesh_metadata.json"
)

// ErrNotFinalized is returned by Read when the step folder was left behind
// by an interrupted Save.
var ErrNotFinalized = errors.New("process metadata is not finalized")

// Record is the layout of the job at the time a step was saved.
type Record struct {
	// RuntimeToDistributedIDs maps runtime process index to distributed
	// process id.
	RuntimeToDistributedIDs []int

	// DeviceIDs lists the device ids in mesh order.
	DeviceIDs []int
}

// StepDir returns the folder holding the record of step under dir.
func StepDir(dir string, step int64) string {
	return storage.Join(dir, Folder, strconv.FormatInt(step, 10))
}

// Save writes rec for step under dir, replacing any earlier record of the
// same step. process is the calling process; opts configure the commit
// (logger, metrics, spans).
func Save(ctx context.Context, st storage.Storage, dir string, step int64, process int, rec Record, opts ...ckptdir.Option) error {
	final := StepDir(dir, step)
	strategy := ckptdir.SelectStrategy(st.Capabilities())
	tmp := strategy.FromFinal(st, final, 0, ckptdir.AllPrimaryRole(process), opts...)

	exists, err := st.Exists(ctx, final)
	if err != nil {
		return ckpterrors.Storage("exists", final, err)
	}
	if exists {
		if logger := tmp.Logger(); logger != nil {
			logger.Warn("process metadata already exists, overwriting", slog.String("path", final))
		}
		if err := st.RemoveAll(ctx, final); err != nil {
			return ckpterrors.Storage("remove", final, err)
		}
	}

	loc, err := tmp.Create(ctx)
	if err != nil {
		return fmt.Errorf("create process metadata %s: %w", final, err)
	}

	if err := writeJSON(ctx, st, storage.Join(loc, GlobalMetadataFile), nonNil(rec.RuntimeToDistributedIDs)); err != nil {
		return err
	}
	if err := writeJSON(ctx, st, storage.Join(loc, MeshMetadataFile), nonNil(rec.DeviceIDs)); err != nil {
		return err
	}
	return tmp.Finalize(ctx)
}

// Read returns the record of step under dir.
func Read(ctx context.Context, st storage.Storage, dir string, step int64) (Record, error) {
	folder := StepDir(dir, step)

	exists, err := st.Exists(ctx, folder)
	if err != nil {
		return Record{}, ckpterrors.Storage("exists", folder, err)
	}
	if !exists {
		return Record{}, &ckpterrors.StorageError{Op: "read", Path: folder, Err: storage.ErrNotExist}
	}
	tmp, err := ckptdir.IsTmpCheckpoint(ctx, st, folder)
	if err != nil {
		return Record{}, ckpterrors.Storage("read", folder, err)
	}
	if tmp {
		return Record{}, fmt.Errorf("%s: %w", folder, ErrNotFinalized)
	}

	var rec Record
	if err := readJSON(ctx, st, storage.Join(folder, GlobalMetadataFile), &rec.RuntimeToDistributedIDs); err != nil {
		return Record{}, err
	}
	if err := readJSON(ctx, st, storage.Join(folder, MeshMetadataFile), &rec.DeviceIDs); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Equal reports whether two records describe the same layout.
func (r Record) Equal(other Record) bool {
	return slices.Equal(r.RuntimeToDistributedIDs, other.RuntimeToDistributedIDs) &&
		slices.Equal(r.DeviceIDs, other.DeviceIDs)
}

func nonNil(ids []int) []int {
	if ids == nil {
		return []int{}
	}
	return ids
}

func writeJSON(ctx context.Context, st storage.Storage, p string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p, err)
	}
	return ckpterrors.Storage("write", p, st.WriteText(ctx, p, string(data)))
}

func readJSON(ctx context.Context, st storage.Storage, p string, v any) error {
	text, err := st.ReadText(ctx, p)
	if err != nil {
		return ckpterrors.Storage("read", p, err)
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("decode %s: %w", p, err)
	}
	return nil
}
