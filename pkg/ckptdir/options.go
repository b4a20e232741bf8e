package ckptdir

import (
	"io/fs"
	"log/slog"
	"time"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir/metadata"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/observability"
)

// DefaultPathPermissionMode is the mode for created directories when neither
// the call site nor FileOptions set one. The process umask still applies.
const DefaultPathPermissionMode fs.FileMode = 0o777

// DirectoryCreationTimeout bounds each barrier of a save.
const DirectoryCreationTimeout = 300 * time.Second

// FileOptions controls how directories are created.
type FileOptions struct {
	// PathPermissionMode is the mode for created directories. Zero means
	// DefaultPathPermissionMode.
	PathPermissionMode fs.FileMode
}

// MultiprocessingOptions controls barrier synchronization.
type MultiprocessingOptions struct {
	// Participants lists the processes taking part in barriers. Empty means
	// every process known to the barrier.
	Participants []int

	// BarrierKeyPrefix namespaces barrier keys so that several savers can
	// run side by side.
	BarrierKeyPrefix string

	// Timeout bounds each barrier. Zero means DirectoryCreationTimeout.
	Timeout time.Duration
}

func (o MultiprocessingOptions) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DirectoryCreationTimeout
}

// settings collects everything configurable through Option. TemporaryPath
// uses the per-path subset; Saver uses all of it.
type settings struct {
	store    metadata.Store
	fileOpts FileOptions
	mp       MultiprocessingOptions
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager

	strategy *Strategy
	executor *Executor
	counter  *Counter
}

func defaultSettings() settings {
	return settings{
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
}

func applyOptions(opts []Option) settings {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures a TemporaryPath or a Saver.
type Option func(*settings)

// WithMetadataStore records creation and commit timestamps in store.
func WithMetadataStore(store metadata.Store) Option {
	return func(s *settings) {
		s.store = store
	}
}

// WithFileOptions sets directory creation options.
func WithFileOptions(opts FileOptions) Option {
	return func(s *settings) {
		s.fileOpts = opts
	}
}

// WithMultiprocessing sets barrier options.
func WithMultiprocessing(opts MultiprocessingOptions) Option {
	return func(s *settings) {
		s.mp = opts
	}
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *settings) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(sm observability.SpanManager) Option {
	return func(s *settings) {
		if sm != nil {
			s.spans = sm
		}
	}
}

// WithStrategy forces a strategy instead of choosing one from the storage
// capabilities. Only Saver reads it.
func WithStrategy(strategy Strategy) Option {
	return func(s *settings) {
		s.strategy = &strategy
	}
}

// WithExecutor runs background commits on e. Only Saver reads it.
// A Saver that is not given an executor owns a private one.
func WithExecutor(e *Executor) Option {
	return func(s *settings) {
		s.executor = e
	}
}

// WithCounter sets the disambiguation counter. Only Saver reads it.
func WithCounter(c *Counter) Option {
	return func(s *settings) {
		s.counter = c
	}
}

// CreateOption configures a single Create call.
type CreateOption func(*createOptions)

type createOptions struct {
	mode fs.FileMode
}

// WithMode sets the permission mode for this call. It takes precedence over
// FileOptions.PathPermissionMode.
func WithMode(mode fs.FileMode) CreateOption {
	return func(o *createOptions) {
		o.mode = mode
	}
}

// resolveMode picks the first non-zero of the call-site mode, the path's
// FileOptions, and DefaultPathPermissionMode.
func resolveMode(call, path fs.FileMode) fs.FileMode {
	switch {
	case call != 0:
		return call
	case path != 0:
		return path
	default:
		return DefaultPathPermissionMode
	}
}
