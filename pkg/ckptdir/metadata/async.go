package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

type opKind int

const (
	opWrite opKind = iota
	opUpdate
)

type op struct {
	ctx    context.Context
	kind   opKind
	path   string
	record StepMetadata
	update Update
}

// AsyncStore applies metadata writes in order on one background goroutine.
type AsyncStore struct {
	backend Backend
	logger  *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []op
	inflight bool
	errs     []error
	closed   bool
	done     chan struct{}
}

// Compile-time interface check.
var _ Store = (*AsyncStore)(nil)

// AsyncOption configures an AsyncStore.
type AsyncOption func(*AsyncStore)

// WithLogger sets the logger used to report failed writes.
func WithLogger(logger *slog.Logger) AsyncOption {
	return func(s *AsyncStore) {
		s.logger = logger
	}
}

// NewAsyncStore starts a store over backend. Close stops the worker and
// closes the backend.
func NewAsyncStore(backend Backend, opts ...AsyncOption) *AsyncStore {
	s := &AsyncStore{
		backend: backend,
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

func (s *AsyncStore) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.inflight = true
		s.mu.Unlock()

		err := s.apply(next)

		s.mu.Lock()
		s.inflight = false
		if err != nil {
			s.errs = append(s.errs, err)
			if s.logger != nil {
				s.logger.Warn("step metadata write failed",
					slog.String("path", next.path),
					slog.String("error", err.Error()),
				)
			}
		}
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *AsyncStore) apply(o op) error {
	record := o.record
	if o.kind == opUpdate {
		data, err := s.backend.Get(o.ctx, o.path)
		switch {
		case errors.Is(err, ErrNotFound):
			record = StepMetadata{}
		case err != nil:
			return fmt.Errorf("read step metadata %s: %w", o.path, err)
		default:
			if record, err = Unmarshal(data); err != nil {
				return fmt.Errorf("%s: %w", o.path, err)
			}
		}
		record = record.apply(o.update)
	}

	data, err := record.Marshal()
	if err != nil {
		return fmt.Errorf("encode step metadata %s: %w", o.path, err)
	}
	if err := s.backend.Put(o.ctx, o.path, data); err != nil {
		return fmt.Errorf("write step metadata %s: %w", o.path, err)
	}
	return nil
}

func (s *AsyncStore) enqueue(o op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.queue = append(s.queue, o)
	s.cond.Broadcast()
	return nil
}

// Write implements Store.
func (s *AsyncStore) Write(ctx context.Context, path string, m StepMetadata) error {
	return s.enqueue(op{ctx: context.WithoutCancel(ctx), kind: opWrite, path: path, record: m})
}

// Update implements Store.
func (s *AsyncStore) Update(ctx context.Context, path string, u Update) error {
	return s.enqueue(op{ctx: context.WithoutCancel(ctx), kind: opUpdate, path: path, update: u})
}

// Drain implements Store.
func (s *AsyncStore) Drain(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		s.mu.Lock()
		for len(s.queue) > 0 || s.inflight {
			s.cond.Wait()
		}
		s.mu.Unlock()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := errors.Join(s.errs...)
	s.errs = nil
	return err
}

// Read implements Store.
func (s *AsyncStore) Read(ctx context.Context, path string) (StepMetadata, error) {
	data, err := s.backend.Get(ctx, path)
	if err != nil {
		return StepMetadata{}, err
	}
	return Unmarshal(data)
}

// Pending returns the number of queued writes not yet applied.
func (s *AsyncStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if s.inflight {
		n++
	}
	return n
}

// Close implements Store. Queued writes are applied before the backend is
// closed. Close is idempotent.
func (s *AsyncStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	<-s.done

	s.mu.Lock()
	pending := errors.Join(s.errs...)
	s.errs = nil
	s.mu.Unlock()

	return errors.Join(pending, s.backend.Close())
}
