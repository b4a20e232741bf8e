package ckptdir_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/metadata"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

func mkdir(t *testing.T, st storage.Storage, p string) {
	t.Helper()
	require.NoError(t, st.MakeDirs(context.Background(), p, storage.MkdirOptions{Parents: true}))
}

func TestIsTmpCheckpoint(t *testing.T) {
	ctx := context.Background()

	t.Run("atomic rename storage", func(t *testing.T) {
		st := storage.NewMemory()
		mkdir(t, st, "/ckpt/step_1")
		mkdir(t, st, "/ckpt/step_2.orbax-checkpoint-tmp-0")
		require.NoError(t, st.WriteText(ctx, "/ckpt/notes.orbax-checkpoint-tmp-0", "file"))

		tests := map[string]bool{
			"/ckpt/step_1":                       false,
			"/ckpt/step_2.orbax-checkpoint-tmp-0": true,
			"/ckpt/notes.orbax-checkpoint-tmp-0":  false,
			"/ckpt/missing":                      false,
		}
		for p, want := range tests {
			got, err := ckptdir.IsTmpCheckpoint(ctx, st, p)
			require.NoError(t, err, p)
			assert.Equal(t, want, got, p)
		}
	})

	t.Run("object storage", func(t *testing.T) {
		st := storage.NewMemory(storage.WithoutAtomicRename())
		mkdir(t, st, "/ckpt/step_1")
		mkdir(t, st, "/ckpt/step_2")
		require.NoError(t, st.WriteText(ctx, "/ckpt/step_2/commit_success", "ok"))

		tmp, err := ckptdir.IsTmpCheckpoint(ctx, st, "/ckpt/step_1")
		require.NoError(t, err)
		assert.True(t, tmp)

		tmp, err = ckptdir.IsTmpCheckpoint(ctx, st, "/ckpt/step_2")
		require.NoError(t, err)
		assert.False(t, tmp)

		done, err := ckptdir.IsFinalized(ctx, st, "/ckpt/step_2")
		require.NoError(t, err)
		assert.True(t, done)

		done, err = ckptdir.IsFinalized(ctx, st, "/ckpt/missing")
		require.NoError(t, err)
		assert.False(t, done)
	})
}

func TestSentinelReadersOnAtomicRenameStorage(t *testing.T) {
	backends := map[string]func(t *testing.T) (storage.Storage, string){
		"memory": func(t *testing.T) (storage.Storage, string) { return storage.NewMemory(), "/ckpt" },
		"local":  func(t *testing.T) (storage.Storage, string) { return storage.NewLocal(), t.TempDir() },
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st, root := open(t)
			require.True(t, st.Capabilities().AtomicRename)
			store := metadata.NewFileStore(st)
			defer store.Close()

			// step_7 crashed after writing its payload; step_8 committed.
			crashed := ckptdir.Sentinel.FromFinal(st, storage.Join(root, "step_7"), 0, coordinator, ckptdir.WithMetadataStore(store))
			loc, err := crashed.Create(ctx)
			require.NoError(t, err)
			require.NoError(t, st.WriteText(ctx, storage.Join(loc, "payload"), "partial"))
			require.NoError(t, store.Drain(ctx))

			done := ckptdir.Sentinel.FromFinal(st, storage.Join(root, "step_8"), 0, coordinator, ckptdir.WithMetadataStore(store))
			loc, err = done.Create(ctx)
			require.NoError(t, err)
			require.NoError(t, st.WriteText(ctx, storage.Join(loc, "payload"), "data"))
			require.NoError(t, done.Finalize(ctx))

			finalized, err := ckptdir.IsFinalized(ctx, st, storage.Join(root, "step_7"))
			require.NoError(t, err)
			assert.False(t, finalized)
			finalized, err = ckptdir.IsFinalized(ctx, st, storage.Join(root, "step_8"))
			require.NoError(t, err)
			assert.True(t, finalized)

			infos, err := ckptdir.ListCheckpoints(ctx, st, root)
			require.NoError(t, err)
			require.Len(t, infos, 2)
			assert.Equal(t, ckptdir.StatusIncomplete, infos[0].Status)
			assert.Equal(t, ckptdir.StatusFinalized, infos[1].Status)

			removed, err := ckptdir.CleanupTemporary(ctx, st, root, coordinator, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{storage.Join(root, "step_7")}, removed)
			mustExist(t, st, storage.Join(root, "step_8", "payload"), true)
		})
	}
}

func TestIsTmpCheckpoint_MetadataRecord(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	mkdir(t, st, "/ckpt/uncommitted")
	require.NoError(t, st.WriteText(ctx, "/ckpt/uncommitted/_CHECKPOINT_METADATA", `{"init_timestamp_nsecs": 1}`))
	mkdir(t, st, "/ckpt/committed")
	require.NoError(t, st.WriteText(ctx, "/ckpt/committed/_CHECKPOINT_METADATA",
		`{"init_timestamp_nsecs": 1, "commit_timestamp_nsecs": 2}`))
	mkdir(t, st, "/ckpt/truncated")
	require.NoError(t, st.WriteText(ctx, "/ckpt/truncated/_CHECKPOINT_METADATA", `{"init_tim`))
	mkdir(t, st, "/ckpt/sentinel")
	require.NoError(t, st.WriteText(ctx, "/ckpt/sentinel/_CHECKPOINT_METADATA", `{"init_timestamp_nsecs": 1}`))
	require.NoError(t, st.WriteText(ctx, "/ckpt/sentinel/commit_success", "ok"))

	tests := map[string]bool{
		"/ckpt/uncommitted": true,
		"/ckpt/committed":   false,
		"/ckpt/truncated":   true,
		"/ckpt/sentinel":    false,
	}
	for p, want := range tests {
		got, err := ckptdir.IsTmpCheckpoint(ctx, st, p)
		require.NoError(t, err, p)
		assert.Equal(t, want, got, p)
	}
}

func TestListCheckpoints(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	store := metadata.NewFileStore(st)
	defer store.Close()

	done := ckptdir.Rename.FromFinal(st, "/ckpt/step_1", 0, coordinator, ckptdir.WithMetadataStore(store))
	_, err := done.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, done.Finalize(ctx))

	pending := ckptdir.Rename.FromFinal(st, "/ckpt/step_2", 1, coordinator)
	_, err = pending.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, st.WriteText(ctx, "/ckpt/README", "not a checkpoint"))

	infos, err := ckptdir.ListCheckpoints(ctx, st, "/ckpt")
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, "step_1", infos[0].Name)
	assert.Equal(t, ckptdir.StatusFinalized, infos[0].Status)
	require.NotNil(t, infos[0].Metadata)
	assert.True(t, infos[0].Metadata.Committed())

	assert.Equal(t, "step_2.orbax-checkpoint-tmp-1", infos[1].Name)
	assert.Equal(t, ckptdir.StatusIncomplete, infos[1].Status)
	assert.Nil(t, infos[1].Metadata)

	infos, err = ckptdir.ListCheckpoints(ctx, st, "/nowhere")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestCleanupTemporary(t *testing.T) {
	ctx := context.Background()

	t.Run("coordinator removes unfinished saves", func(t *testing.T) {
		st := storage.NewMemory(storage.WithoutAtomicRename())
		mkdir(t, st, "/ckpt/step_1")
		require.NoError(t, st.WriteText(ctx, "/ckpt/step_1/commit_success", "ok"))
		mkdir(t, st, "/ckpt/step_2")
		mkdir(t, st, "/ckpt/step_3.orbax-checkpoint-tmp-4")

		removed, err := ckptdir.CleanupTemporary(ctx, st, "/ckpt", coordinator, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"/ckpt/step_2", "/ckpt/step_3.orbax-checkpoint-tmp-4"}, removed)
		mustExist(t, st, "/ckpt/step_1", true)
		mustExist(t, st, "/ckpt/step_2", false)
	})

	t.Run("other processes do nothing", func(t *testing.T) {
		st := storage.NewMemory()
		mkdir(t, st, "/ckpt/step_3.orbax-checkpoint-tmp-4")

		removed, err := ckptdir.CleanupTemporary(ctx, st, "/ckpt", ckptdir.NewRole(1, 0), nil)
		require.NoError(t, err)
		assert.Nil(t, removed)
		mustExist(t, st, "/ckpt/step_3.orbax-checkpoint-tmp-4", true)
	})

	t.Run("missing directory", func(t *testing.T) {
		removed, err := ckptdir.CleanupTemporary(ctx, storage.NewMemory(), "/ckpt", coordinator, nil)
		require.NoError(t, err)
		assert.Empty(t, removed)
	})
}

func TestRoleAndCounter(t *testing.T) {
	assert.True(t, ckptdir.NewRole(0, 0).IsCoordinator())
	assert.False(t, ckptdir.NewRole(1, 0).IsCoordinator())
	assert.True(t, ckptdir.AllPrimaryRole(3).IsCoordinator())
	assert.Equal(t, "process 1 (primary 0)", ckptdir.NewRole(1, 0).String())
	assert.Equal(t, "process 3 (all primary)", ckptdir.AllPrimaryRole(3).String())

	c := ckptdir.NewCounter(5)
	assert.Equal(t, int64(5), c.Peek())
	assert.Equal(t, int64(5), c.Next())
	assert.Equal(t, int64(6), c.Next())
	assert.Equal(t, int64(7), c.Peek())

	// Separate counters do not share state.
	assert.Equal(t, int64(0), ckptdir.NewCounter(0).Next())
}
