package jsonitem_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir"
	ckpterrors "github.com/randalmurphal/ckptdir/pkg/ckptdir/errors"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/jsonitem"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

type trainState struct {
	Step    int     `json:"step"`
	LR      float64 `json:"lr"`
	Dataset string  `json:"dataset"`
}

func setup(t *testing.T) (*storage.Memory, string) {
	t.Helper()
	st := storage.NewMemory()
	dir := "/ckpt/100"
	require.NoError(t, st.MakeDirs(context.Background(), dir, storage.MkdirOptions{Parents: true}))
	return st, dir
}

func TestHandler_SaveRestore(t *testing.T) {
	ctx := context.Background()
	st, dir := setup(t)

	h := jsonitem.Handler{Role: ckptdir.NewRole(0, 0)}
	in := trainState{Step: 100, LR: 0.5, Dataset: "c4"}
	require.NoError(t, h.Save(ctx, st, dir, in))

	ok, err := st.Exists(ctx, "/ckpt/100/metadata")
	require.NoError(t, err)
	assert.True(t, ok)

	var out trainState
	require.NoError(t, h.Restore(ctx, st, dir, &out))
	assert.Equal(t, in, out)

	var generic map[string]any
	require.NoError(t, h.Restore(ctx, st, dir, &generic))
	assert.Equal(t, "c4", generic["dataset"])
}

func TestHandler_CustomFilename(t *testing.T) {
	ctx := context.Background()
	st, dir := setup(t)

	h := jsonitem.Handler{Filename: "extra.json", Role: ckptdir.AllPrimaryRole(2)}
	require.NoError(t, h.Save(ctx, st, dir, map[string]int{"a": 1}))

	text, err := st.ReadText(ctx, "/ckpt/100/extra.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, text)
}

func TestHandler_OnlyCoordinatorWrites(t *testing.T) {
	ctx := context.Background()
	st, dir := setup(t)

	h := jsonitem.Handler{Role: ckptdir.NewRole(1, 0)}
	require.NoError(t, h.Save(ctx, st, dir, trainState{Step: 1}))
	assert.Equal(t, 0, st.Len())
}

func TestHandler_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unencodable item", func(t *testing.T) {
		st, dir := setup(t)
		h := jsonitem.Handler{Role: ckptdir.NewRole(0, 0)}
		err := h.Save(ctx, st, dir, map[string]any{"ch": make(chan int)})
		require.Error(t, err)
		assert.Equal(t, 0, st.Len())
	})

	t.Run("missing file", func(t *testing.T) {
		st, dir := setup(t)
		h := jsonitem.Handler{}
		var out trainState
		err := h.Restore(ctx, st, dir, &out)
		require.Error(t, err)
		assert.ErrorIs(t, err, storage.ErrNotExist)
		var se *ckpterrors.StorageError
		assert.True(t, errors.As(err, &se))
	})

	t.Run("malformed json", func(t *testing.T) {
		st, dir := setup(t)
		require.NoError(t, st.WriteText(ctx, "/ckpt/100/metadata", "{not json"))
		var out trainState
		err := jsonitem.Handler{}.Restore(ctx, st, dir, &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode json item")
	})

	t.Run("write failure", func(t *testing.T) {
		st, dir := setup(t)
		boom := errors.New("disk full")
		st.InjectFault("write", boom)
		err := jsonitem.Handler{Role: ckptdir.NewRole(0, 0)}.Save(ctx, st, dir, trainState{})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, ckpterrors.CategoryStorage, ckpterrors.Categorize(err))
	})
}
