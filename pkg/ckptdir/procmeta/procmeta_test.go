package procmeta_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir"
	ckpterrors "github.com/randalmurphal/ckptdir/pkg/ckptdir/errors"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/procmeta"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

var rec = procmeta.Record{
	RuntimeToDistributedIDs: []int{2, 0, 1},
	DeviceIDs:               []int{0, 1, 2, 3, 4, 5},
}

func backends(t *testing.T) map[string]storage.Storage {
	return map[string]storage.Storage{
		"rename":   storage.NewMemory(),
		"sentinel": storage.NewMemory(storage.WithoutAtomicRename()),
		"local":    storage.NewLocal(),
	}
}

func baseDir(t *testing.T, name string) string {
	if name == "local" {
		return t.TempDir()
	}
	return "/local/ckpt"
}

func TestSaveRead_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			dir := baseDir(t, name)
			require.NoError(t, procmeta.Save(ctx, st, dir, 7, 1, rec))

			got, err := procmeta.Read(ctx, st, dir, 7)
			require.NoError(t, err)
			assert.True(t, rec.Equal(got))

			names, err := st.List(ctx, storage.Join(dir, procmeta.Folder))
			require.NoError(t, err)
			assert.Equal(t, []string{"7"}, names, "no temporaries left behind")

			text, err := st.ReadText(ctx, storage.Join(procmeta.StepDir(dir, 7), procmeta.MeshMetadataFile))
			require.NoError(t, err)
			assert.JSONEq(t, `[0,1,2,3,4,5]`, text)
		})
	}
}

func TestSave_OverwritesExistingStep(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	require.NoError(t, procmeta.Save(ctx, st, "/c", 3, 0, rec))

	next := procmeta.Record{RuntimeToDistributedIDs: []int{0}, DeviceIDs: []int{9}}
	require.NoError(t, procmeta.Save(ctx, st, "/c", 3, 0, next))

	got, err := procmeta.Read(ctx, st, "/c", 3)
	require.NoError(t, err)
	assert.Equal(t, next, got)
	assert.False(t, rec.Equal(got))
}

func TestSave_OverwriteLogsToConfiguredLogger(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	require.NoError(t, procmeta.Save(ctx, st, "/c", 3, 0, rec, ckptdir.WithLogger(logger)))
	assert.NotContains(t, buf.String(), "overwriting")

	require.NoError(t, procmeta.Save(ctx, st, "/c", 3, 0, rec, ckptdir.WithLogger(logger)))
	assert.Contains(t, buf.String(), "process metadata already exists, overwriting")
	assert.Contains(t, buf.String(), "path=/c/process_metadata/3")
}

func TestRecord_Equal(t *testing.T) {
	assert.True(t, rec.Equal(procmeta.Record{
		RuntimeToDistributedIDs: []int{2, 0, 1},
		DeviceIDs:               []int{0, 1, 2, 3, 4, 5},
	}))
	assert.False(t, rec.Equal(procmeta.Record{RuntimeToDistributedIDs: []int{0, 1, 2}, DeviceIDs: rec.DeviceIDs}))
	assert.False(t, rec.Equal(procmeta.Record{RuntimeToDistributedIDs: rec.RuntimeToDistributedIDs}))
	assert.True(t, procmeta.Record{}.Equal(procmeta.Record{DeviceIDs: []int{}}))
}

func TestSave_EmptyRecord(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	require.NoError(t, procmeta.Save(ctx, st, "/c", 1, 0, procmeta.Record{}))

	text, err := st.ReadText(ctx, "/c/process_metadata/1/global_process_metadata.json")
	require.NoError(t, err)
	assert.Equal(t, "[]", text)

	got, err := procmeta.Read(ctx, st, "/c", 1)
	require.NoError(t, err)
	assert.Empty(t, got.DeviceIDs)
}

func TestRead_Missing(t *testing.T) {
	_, err := procmeta.Read(context.Background(), storage.NewMemory(), "/c", 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotExist)
}

func TestRead_InterruptedSave(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory(storage.WithoutAtomicRename())

	// Created and written but never finalized.
	tmp := ckptdir.Sentinel.FromFinal(st, procmeta.StepDir("/c", 5), 0, ckptdir.AllPrimaryRole(0))
	loc, err := tmp.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, st.WriteText(ctx, storage.Join(loc, procmeta.GlobalMetadataFile), "[0]"))

	_, err = procmeta.Read(ctx, st, "/c", 5)
	assert.ErrorIs(t, err, procmeta.ErrNotFinalized)

	// A new save replaces the leftover.
	require.NoError(t, procmeta.Save(ctx, st, "/c", 5, 0, rec))
	got, err := procmeta.Read(ctx, st, "/c", 5)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestSave_StorageFailure(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	boom := errors.New("read-only filesystem")
	st.InjectFault("write", boom)

	err := procmeta.Save(ctx, st, "/c", 2, 0, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	st.ClearFaults()
	_, err = procmeta.Read(ctx, st, "/c", 2)
	assert.Error(t, err, "nothing committed")
	var se *ckpterrors.StorageError
	assert.True(t, errors.As(err, &se))
}
