package ckptdir

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir/barrier"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/observability"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

// WriteFunc writes one process's share of a checkpoint. locations holds
// the working location of each final path, in the order given to Save.
type WriteFunc func(ctx context.Context, locations []string) error

// Saver runs complete saves: create the working locations on every
// participant, let each participant write, then commit on the coordinator
// in the background.
//
// Every participating process must call Save with the same final paths in
// the same order, and each process's Counter must hand out the same
// sequence.
type Saver struct {
	st       storage.Storage
	barrier  barrier.Barrier
	role     Role
	cfg      settings
	opts     []Option
	strategy Strategy
	counter  *Counter
	executor *Executor
	ownsExec bool
}

// NewSaver creates a Saver.
func NewSaver(st storage.Storage, b barrier.Barrier, role Role, opts ...Option) *Saver {
	cfg := applyOptions(opts)
	s := &Saver{
		st:       st,
		barrier:  b,
		role:     role,
		cfg:      cfg,
		opts:     opts,
		strategy: SelectStrategy(st.Capabilities()),
		counter:  cfg.counter,
		executor: cfg.executor,
	}
	if cfg.strategy != nil {
		s.strategy = *cfg.strategy
	}
	if s.counter == nil {
		s.counter = NewCounter(0)
	}
	if s.executor == nil {
		s.executor = NewExecutor(WithExecutorLogger(cfg.logger))
		s.ownsExec = true
	}
	return s
}

// Strategy returns the strategy used for new saves.
func (s *Saver) Strategy() Strategy {
	return s.strategy
}

// Save writes one checkpoint step made of finals. It returns once the
// working locations exist and write has returned on this process; the
// returned Task completes when the commit is visible to every participant.
func (s *Saver) Save(ctx context.Context, finals []string, write WriteFunc) (*Task, error) {
	if len(finals) == 0 {
		return nil, ErrNoPaths
	}
	start := time.Now()
	saveID := uuid.NewString()
	logger := observability.EnrichLogger(s.cfg.logger, s.role.Process, saveID)

	n := s.counter.Next()
	opts := append(append([]Option(nil), s.opts...), WithLogger(logger))
	paths := make([]*TemporaryPath, len(finals))
	locations := make([]string, len(finals))
	for i, final := range finals {
		paths[i] = s.strategy.FromFinal(s.st, final, n, s.role, opts...)
		locations[i] = paths[i].Location()
	}

	if logger != nil {
		logger.Info("starting checkpoint save",
			slog.Any("final_paths", finals),
			slog.String("strategy", s.strategy.String()),
			slog.Int64("counter", n),
		)
	}

	if err := CreateAll(ctx, s.barrier, paths, s.cfg.mp); err != nil {
		return nil, err
	}
	if err := write(ctx, locations); err != nil {
		return nil, fmt.Errorf("write checkpoint: %w", err)
	}

	suffix := saveSuffix(paths[0])
	mp := s.cfg.mp
	task := s.executor.Submit(ctx, "commit "+paths[0].FinalLocation(), func(ctx context.Context) error {
		if err := s.barrier.Sync(ctx, BarrierKey("write_complete", mp.BarrierKeyPrefix, suffix), mp.timeout(), mp.Participants); err != nil {
			return fmt.Errorf("waiting for writers: %w", err)
		}
		if s.role.IsCoordinator() {
			for _, p := range paths {
				if err := OnCommit(ctx, p, start); err != nil {
					return err
				}
			}
		}
		if err := s.barrier.Sync(ctx, BarrierKey("finalize:post", mp.BarrierKeyPrefix, suffix), mp.timeout(), mp.Participants); err != nil {
			return fmt.Errorf("waiting for commit: %w", err)
		}
		return nil
	})
	return task, nil
}

// Close waits for outstanding commits. A Saver given an executor with
// WithExecutor leaves it running.
func (s *Saver) Close() {
	if s.ownsExec {
		s.executor.Close()
	}
}
