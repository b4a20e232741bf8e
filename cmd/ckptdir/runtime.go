package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/barrier"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/config"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/metadata"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/observability"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

// runtime holds the components built from Settings for one command.
type runtime struct {
	settings config.Settings
	logger   *slog.Logger
	st       storage.Storage
	barrier  barrier.Barrier
	store    metadata.Store
	role     ckptdir.Role
}

func openRuntime(ctx context.Context, s config.Settings, logger *slog.Logger) (*runtime, error) {
	st, err := storage.Open(ctx, s.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage %q: %w", s.Storage, err)
	}
	rt := &runtime{
		settings: s,
		logger:   logger,
		st:       st,
		role:     ckptdir.NewRole(s.Process, s.PrimaryProcess),
	}
	if s.AllPrimary {
		rt.role = ckptdir.AllPrimaryRole(s.Process)
	}

	switch s.Barrier.Kind {
	case "file":
		fb, err := barrier.NewFile(st, s.Barrier.Dir, s.Barrier.Session, s.Process, s.Barrier.Size,
			barrier.WithPollInterval(s.Barrier.PollInterval),
			barrier.WithFileLogger(logger),
		)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.barrier = fb
	default:
		rt.barrier = barrier.Noop{}
	}

	if rt.store, err = openStore(st, s.Metadata, logger); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// openStore returns nil for the "none" backend.
func openStore(st storage.Storage, ms config.MetadataSettings, logger *slog.Logger) (metadata.Store, error) {
	var backend metadata.Backend
	switch ms.Backend {
	case "none":
		return nil, nil
	case "file":
		return metadata.NewFileStore(st, metadata.WithLogger(logger)), nil
	case "memory":
		backend = metadata.NewMemoryBackend()
	case "sqlite":
		b, err := metadata.NewSQLiteBackend(ms.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite metadata: %w", err)
		}
		backend = b
	case "badger":
		b, err := metadata.OpenBadger(metadata.BadgerConfig{Path: ms.Path, SyncWrites: true, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("open badger metadata: %w", err)
		}
		backend = b
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", ms.Backend)
	}
	return metadata.NewAsyncStore(backend, metadata.WithLogger(logger)), nil
}

// options returns the ckptdir options shared by every save.
func (rt *runtime) options() []ckptdir.Option {
	opts := []ckptdir.Option{
		ckptdir.WithLogger(rt.logger),
		ckptdir.WithMetrics(observability.NewMetricsRecorder()),
		ckptdir.WithSpans(observability.NewSpanManager()),
		ckptdir.WithFileOptions(ckptdir.FileOptions{PathPermissionMode: rt.settings.PathPermissionMode}),
		ckptdir.WithMultiprocessing(ckptdir.MultiprocessingOptions{
			Participants:     rt.settings.Participants,
			BarrierKeyPrefix: rt.settings.BarrierKeyPrefix,
			Timeout:          rt.settings.Barrier.Timeout,
		}),
	}
	if rt.store != nil {
		opts = append(opts, ckptdir.WithMetadataStore(rt.store))
	}
	return opts
}

// strategy resolves the configured temporary path strategy.
// Sentinel on atomic-rename storage needs the file metadata backend, whose
// uncommitted record is the only mark of a crashed save there.
func (rt *runtime) strategy() (ckptdir.Strategy, error) {
	caps := rt.st.Capabilities()
	strategy, err := ckptdir.ParseStrategy(rt.settings.TemporaryPath, caps)
	if err != nil {
		return 0, err
	}
	if strategy == ckptdir.Sentinel && caps.AtomicRename && rt.settings.Metadata.Backend != "file" {
		return 0, fmt.Errorf("temporary_path sentinel on %s requires metadata.backend file, got %q",
			rt.settings.Storage, rt.settings.Metadata.Backend)
	}
	return strategy, nil
}

func (rt *runtime) Close() error {
	var errs []error
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	errs = append(errs, storage.Close(rt.st))
	return errors.Join(errs...)
}
