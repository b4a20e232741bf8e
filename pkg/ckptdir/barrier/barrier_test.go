package barrier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ckpterrors "github.com/randalmurphal/ckptdir/pkg/ckptdir/errors"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

func syncAll(t *testing.T, barriers []Barrier, key string, timeout time.Duration, participants []int) []error {
	t.Helper()
	errs := make([]error, len(barriers))
	var wg sync.WaitGroup
	for i, b := range barriers {
		wg.Add(1)
		go func(i int, b Barrier) {
			defer wg.Done()
			errs[i] = b.Sync(context.Background(), key, timeout, participants)
		}(i, b)
	}
	wg.Wait()
	return errs
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, normalize(nil, 3))
	assert.Equal(t, []int{1, 3}, normalize([]int{3, 1, 3}, 5))
	assert.True(t, contains([]int{1, 3}, 3))
	assert.False(t, contains([]int{1, 3}, 2))
}

func TestNoop(t *testing.T) {
	require.NoError(t, Noop{}.Sync(context.Background(), "k", time.Second, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Noop{}.Sync(ctx, "k", time.Second, nil), context.Canceled)
}

func TestGroup_AllArrive(t *testing.T) {
	g := NewGroup(3)
	var barriers []Barrier
	for _, m := range g.Members() {
		barriers = append(barriers, m)
	}

	for _, key := range []string{"first", "second", "first"} {
		for i, err := range syncAll(t, barriers, key, 5*time.Second, nil) {
			assert.NoError(t, err, "process %d key %s", i, key)
		}
	}
}

func TestGroup_SubsetParticipants(t *testing.T) {
	g := NewGroup(3)

	// Process 2 is not a participant and returns immediately.
	require.NoError(t, g.Member(2).Sync(context.Background(), "k", time.Second, []int{0, 1}))

	errs := syncAll(t, []Barrier{g.Member(0), g.Member(1)}, "k", 5*time.Second, []int{0, 1})
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestGroup_TimeoutIsAllOrNothing(t *testing.T) {
	g := NewGroup(3)

	errs := syncAll(t, []Barrier{g.Member(0), g.Member(1)}, "k", 50*time.Millisecond, nil)
	for _, err := range errs {
		var timeoutErr *ckpterrors.BarrierTimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, []int{2}, timeoutErr.Missing)
		assert.Equal(t, "k", timeoutErr.Key)
		assert.True(t, ckpterrors.IsRestartable(err))
	}

	// The straggler fails at once rather than succeeding alone.
	start := time.Now()
	err := g.Member(2).Sync(context.Background(), "k", time.Minute, nil)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, ckpterrors.IsBarrierTimeout(err))
}

func TestGroup_CancelAbortsPeers(t *testing.T) {
	g := NewGroup(3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- g.Member(0).Sync(ctx, "k", time.Minute, nil)
	}()

	peer := make(chan error, 1)
	go func() {
		peer <- g.Member(1).Sync(context.Background(), "k", time.Minute, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.ErrorIs(t, <-peer, ErrAborted)
	assert.ErrorIs(t, g.Member(2).Sync(context.Background(), "k", time.Minute, nil), ErrAborted)
}

func newFile(t *testing.T, st storage.Storage, dir, session string, process, size int) *File {
	t.Helper()
	f, err := NewFile(st, dir, session, process, size, WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	return f
}

func newFileBarriers(t *testing.T, st storage.Storage, session string, n int) []Barrier {
	t.Helper()
	out := make([]Barrier, n)
	for i := range out {
		out[i] = newFile(t, st, "/barriers", session, i, n)
	}
	return out
}

func TestFile_AllArrive(t *testing.T) {
	st := storage.NewMemory()
	barriers := newFileBarriers(t, st, "run-1", 3)

	for i, err := range syncAll(t, barriers, "create_tmp_directory:pre.step_1.0", 5*time.Second, nil) {
		assert.NoError(t, err, "process %d", i)
	}

	names, err := st.List(context.Background(), "/barriers/create_tmp_directory_pre.step_1.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"process_0", "process_1", "process_2"}, names)
}

func TestFile_LocalStorage(t *testing.T) {
	st := storage.NewLocal()
	dir := t.TempDir()
	barriers := make([]Barrier, 2)
	for i := range barriers {
		barriers[i] = newFile(t, st, dir, "run-1", i, 2)
	}
	for _, err := range syncAll(t, barriers, "k", 5*time.Second, nil) {
		assert.NoError(t, err)
	}
}

func TestFile_TimeoutWritesAbortMarker(t *testing.T) {
	st := storage.NewMemory()
	barriers := newFileBarriers(t, st, "run-1", 3)

	errs := syncAll(t, barriers[:2], "k", 50*time.Millisecond, nil)
	for _, err := range errs {
		require.Error(t, err)
		// One participant times out; the other may observe its abort marker first.
		assert.True(t, ckpterrors.IsBarrierTimeout(err) || errors.Is(err, ErrAborted), err.Error())
	}

	exists, err := st.Exists(context.Background(), "/barriers/k/aborted")
	require.NoError(t, err)
	assert.True(t, exists)

	err = barriers[2].Sync(context.Background(), "k", time.Minute, nil)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestFile_IgnoresOtherSessions(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()

	// A crashed run left process 1's marker and an abort marker behind.
	require.NoError(t, st.MakeDirs(ctx, "/barriers/k", storage.MkdirOptions{Parents: true}))
	require.NoError(t, st.WriteText(ctx, "/barriers/k/process_1", "old-run token"))
	require.NoError(t, st.WriteText(ctx, "/barriers/k/aborted", "old-run process 1 timed out"))

	b := newFile(t, st, "/barriers", "new-run", 0, 2)
	err := b.Sync(ctx, "k", 50*time.Millisecond, nil)

	var timeoutErr *ckpterrors.BarrierTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, []int{1}, timeoutErr.Missing)
}

func TestFile_SequentialRunsSameKey(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	key := "create_tmp_directory:pre.step_5.0"

	for _, err := range syncAll(t, newFileBarriers(t, st, "run-1", 2), key, 5*time.Second, nil) {
		require.NoError(t, err)
	}

	// The next run starts its counter over and reuses the key, but process 1
	// never arrives. Its marker from run-1 must not satisfy the rendezvous.
	alone := newFile(t, st, "/barriers", "run-2", 0, 2)
	err := alone.Sync(ctx, key, 100*time.Millisecond, nil)

	var timeoutErr *ckpterrors.BarrierTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, []int{1}, timeoutErr.Missing)

	// run-2's abort marker does not poison a third run.
	for _, err := range syncAll(t, newFileBarriers(t, st, "run-3", 2), key, 5*time.Second, nil) {
		assert.NoError(t, err)
	}
}

func TestFile_KeyReusedWithinSession(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()

	for _, err := range syncAll(t, newFileBarriers(t, st, "run-1", 2), "k", 5*time.Second, nil) {
		require.NoError(t, err)
	}

	again := newFile(t, st, "/barriers", "run-1", 0, 2)
	err := again.Sync(ctx, "k", 100*time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrKeyReused)
}

func TestNewFile_RequiresSession(t *testing.T) {
	st := storage.NewMemory()

	_, err := NewFile(st, "/barriers", "", 0, 1)
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = NewFile(st, "/barriers", "run 1", 0, 1)
	assert.ErrorContains(t, err, "whitespace")

	f, err := NewFile(st, "/barriers", "run-1", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "run-1", f.Session())
}

func TestFile_StorageFailure(t *testing.T) {
	st := storage.NewMemory()
	st.InjectFault("write", errors.New("quota exceeded"))

	b := newFile(t, st, "/barriers", "run-1", 0, 1)
	err := b.Sync(context.Background(), "k", time.Second, nil)

	var storageErr *ckpterrors.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "write", storageErr.Op)
}

func TestFile_Reset(t *testing.T) {
	st := storage.NewMemory()
	b := newFile(t, st, "/barriers", "run-1", 0, 1)
	require.NoError(t, b.Sync(context.Background(), "k", time.Second, nil))
	require.NoError(t, b.Reset(context.Background()))

	exists, err := st.Exists(context.Background(), b.Dir())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "create_tmp_directory_pre.p_step_1.3", sanitizeKey("create_tmp_directory:pre.p/step_1.3"))
}
