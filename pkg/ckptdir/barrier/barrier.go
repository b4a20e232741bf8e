// Package barrier provides named rendezvous points for the processes taking
// part in a checkpoint save.
//
// Every participant calls Sync with the same key. Sync returns once all
// participants have arrived, or fails for everyone once the timeout expires.
// A rendezvous that failed stays failed: participants arriving after the
// failure get an error immediately instead of waiting for peers that have
// already given up.
//
// Three implementations are provided:
//   - Group hands out Members for goroutines standing in for processes.
//   - File rendezvous through marker files on shared storage.
//   - Noop for single-process runs.
package barrier

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrAborted is returned to participants of a rendezvous that another
// participant abandoned before it completed.
var ErrAborted = errors.New("barrier aborted by a participant")

// ErrNoSession is returned by NewFile when no session id is given.
var ErrNoSession = errors.New("file barrier requires a session id unique to the run")

// ErrKeyReused is returned when a process syncs the same key twice within
// one session.
var ErrKeyReused = errors.New("barrier key already used in this session")

// Barrier blocks until every participant reaches the rendezvous named key.
type Barrier interface {
	// Sync waits for all participants to call Sync with the same key.
	// A non-positive timeout waits until ctx is done.
	// A caller whose process is not listed in participants returns at once.
	// An empty participants list means every process known to the barrier.
	Sync(ctx context.Context, key string, timeout time.Duration, participants []int) error
}

// Noop is a Barrier for a single process. Sync only checks ctx.
type Noop struct{}

// Compile-time interface check.
var _ Barrier = Noop{}

// Sync implements Barrier.
func (Noop) Sync(ctx context.Context, _ string, _ time.Duration, _ []int) error {
	return ctx.Err()
}

// normalize returns a sorted, deduplicated participant list. An empty list
// expands to 0..n-1.
func normalize(participants []int, n int) []int {
	if len(participants) == 0 {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	out := append([]int(nil), participants...)
	sort.Ints(out)
	uniq := out[:0]
	for i, p := range out {
		if i == 0 || p != out[i-1] {
			uniq = append(uniq, p)
		}
	}
	return uniq
}

func contains(participants []int, process int) bool {
	i := sort.SearchInts(participants, process)
	return i < len(participants) && participants[i] == process
}

// withTimeout derives the wait context for one Sync call.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
