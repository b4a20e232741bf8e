package barrier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ckpterrors "github.com/randalmurphal/ckptdir/pkg/ckptdir/errors"
)

// Group coordinates a fixed number of in-process participants. Each
// participant syncs through its own Member.
type Group struct {
	size   int
	logger *slog.Logger

	mu     sync.Mutex
	points map[string]*rendezvous
}

type rendezvous struct {
	participants []int
	arrived      map[int]bool
	complete     chan struct{}

	abortOnce sync.Once
	aborted   chan struct{}
	abortErr  error
}

func (r *rendezvous) missing() []int {
	var out []int
	for _, p := range r.participants {
		if !r.arrived[p] {
			out = append(out, p)
		}
	}
	return out
}

func (r *rendezvous) abort(err error) {
	r.abortOnce.Do(func() {
		r.abortErr = err
		close(r.aborted)
	})
}

// GroupOption configures a Group.
type GroupOption func(*Group)

// WithGroupLogger sets the logger for rendezvous failures.
func WithGroupLogger(logger *slog.Logger) GroupOption {
	return func(g *Group) {
		g.logger = logger
	}
}

// NewGroup creates a Group for processes 0..size-1.
func NewGroup(size int, opts ...GroupOption) *Group {
	g := &Group{
		size:   size,
		points: make(map[string]*rendezvous),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Size returns the number of processes in the group.
func (g *Group) Size() int {
	return g.size
}

// Member returns the Barrier used by one process.
func (g *Group) Member(process int) *Member {
	return &Member{group: g, process: process}
}

// Members returns one Member per process, indexed by process.
func (g *Group) Members() []*Member {
	members := make([]*Member, g.size)
	for i := range members {
		members[i] = g.Member(i)
	}
	return members
}

// Member is one process's view of a Group.
type Member struct {
	group   *Group
	process int
}

// Compile-time interface check.
var _ Barrier = (*Member)(nil)

// Process returns the process index of this member.
func (m *Member) Process() int {
	return m.process
}

// Sync implements Barrier.
func (m *Member) Sync(ctx context.Context, key string, timeout time.Duration, participants []int) error {
	return m.group.arrive(ctx, key, m.process, timeout, normalize(participants, m.group.size))
}

func (g *Group) arrive(ctx context.Context, key string, process int, timeout time.Duration, participants []int) error {
	if !contains(participants, process) {
		return nil
	}

	g.mu.Lock()
	r, ok := g.points[key]
	if !ok {
		r = &rendezvous{
			participants: participants,
			arrived:      make(map[int]bool, len(participants)),
			complete:     make(chan struct{}),
			aborted:      make(chan struct{}),
		}
		g.points[key] = r
	}
	select {
	case <-r.aborted:
		g.mu.Unlock()
		return r.abortErr
	default:
	}
	r.arrived[process] = true
	if len(r.missing()) == 0 {
		close(r.complete)
		delete(g.points, key)
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	waitCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-r.complete:
		return nil
	case <-r.aborted:
		return r.abortErr
	case <-waitCtx.Done():
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// Completion may have raced with the deadline.
	select {
	case <-r.complete:
		return nil
	default:
	}

	var err error
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = &ckpterrors.BarrierTimeoutError{Key: key, Timeout: timeout, Missing: r.missing()}
		r.abort(err)
	} else {
		err = ctx.Err()
		r.abort(fmt.Errorf("barrier %q: process %d: %w", key, process, ErrAborted))
	}
	if g.logger != nil {
		g.logger.Warn("barrier failed",
			slog.String("key", key),
			slog.Int("process", process),
			slog.Any("missing", r.missing()),
			slog.String("error", err.Error()),
		)
	}
	return err
}
