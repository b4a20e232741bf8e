package barrier

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	ckpterrors "github.com/randalmurphal/ckptdir/pkg/ckptdir/errors"
	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

const (
	// DefaultPollInterval is how often File checks for peer markers.
	DefaultPollInterval = 100 * time.Millisecond

	abortedMarker = "aborted"
	markerPrefix  = "process_"
)

// File is a Barrier for separate OS processes that share a storage backend.
// Each arrival writes a marker file under <dir>/<key>/ and polls until the
// markers of all participants are present.
//
// Markers carry the session id, which every participant of a run shares and
// no other run reuses. Markers and abort markers from another session, such
// as those left behind by an earlier run that used the same key, are ignored.
// A key may be synced only once per session.
type File struct {
	st           storage.Storage
	dir          string
	process      int
	size         int
	session      string
	pollInterval time.Duration
	logger       *slog.Logger
}

// Compile-time interface check.
var _ Barrier = (*File)(nil)

// FileOption configures a File barrier.
type FileOption func(*File)

// WithPollInterval sets how often peers' markers are checked.
func WithPollInterval(d time.Duration) FileOption {
	return func(f *File) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithFileLogger sets the logger.
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(f *File) {
		f.logger = logger
	}
}

// NewFile creates a File barrier for process among size processes, keeping
// its markers under dir. session identifies the run and must be unique to it.
func NewFile(st storage.Storage, dir, session string, process, size int, opts ...FileOption) (*File, error) {
	if session == "" {
		return nil, ErrNoSession
	}
	if strings.ContainsFunc(session, unicode.IsSpace) {
		return nil, fmt.Errorf("barrier session %q must not contain whitespace", session)
	}
	f := &File{
		st:           st,
		dir:          dir,
		process:      process,
		size:         size,
		session:      session,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Session returns the run's session id.
func (f *File) Session() string {
	return f.session
}

// Dir returns the directory holding the markers.
func (f *File) Dir() string {
	return f.dir
}

// Sync implements Barrier.
func (f *File) Sync(ctx context.Context, key string, timeout time.Duration, participants []int) error {
	participants = normalize(participants, f.size)
	if !contains(participants, f.process) {
		return nil
	}

	keyDir := storage.Join(f.dir, sanitizeKey(key))
	if err := f.st.MakeDirs(ctx, keyDir, storage.MkdirOptions{Parents: true}); err != nil {
		return ckpterrors.Storage("mkdir", keyDir, err)
	}

	marker := storage.Join(keyDir, markerPrefix+strconv.Itoa(f.process))
	prev, err := f.st.ReadText(ctx, marker)
	switch {
	case err == nil && strings.HasPrefix(prev, f.session+" "):
		return fmt.Errorf("barrier %q in session %q: %w", key, f.session, ErrKeyReused)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return ckpterrors.Storage("read", marker, err)
	}

	token := uuid.New().String()
	if err := f.st.WriteText(ctx, marker, f.session+" "+token); err != nil {
		return ckpterrors.Storage("write", marker, err)
	}
	if f.logger != nil {
		f.logger.Debug("barrier arrival",
			slog.String("key", key),
			slog.Int("process", f.process),
			slog.String("token", token),
		)
	}

	waitCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		missing, err := f.check(waitCtx, key, keyDir, participants)
		if err != nil {
			return err
		}
		if len(missing) == 0 {
			return nil
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			return f.fail(ctx, waitCtx, key, keyDir, timeout, missing)
		}
	}
}

// check returns the participants whose markers are missing, or an error if
// the rendezvous was aborted.
func (f *File) check(ctx context.Context, key, keyDir string, participants []int) ([]int, error) {
	names, err := f.st.List(ctx, keyDir)
	if err != nil {
		if ctx.Err() != nil {
			return participants, nil
		}
		return nil, ckpterrors.Storage("list", keyDir, err)
	}

	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
	}
	if present[abortedMarker] {
		reason, _ := f.st.ReadText(ctx, storage.Join(keyDir, abortedMarker))
		if strings.HasPrefix(reason, f.session+" ") {
			return nil, fmt.Errorf("barrier %q: %s: %w", key, strings.TrimPrefix(reason, f.session+" "), ErrAborted)
		}
	}

	var missing []int
	for _, p := range participants {
		name := markerPrefix + strconv.Itoa(p)
		if !present[name] {
			missing = append(missing, p)
			continue
		}
		content, err := f.st.ReadText(ctx, storage.Join(keyDir, name))
		if err != nil || !strings.HasPrefix(content, f.session+" ") {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// fail marks the rendezvous aborted so that peers still waiting, and peers
// that arrive later, stop immediately.
func (f *File) fail(ctx, waitCtx context.Context, key, keyDir string, timeout time.Duration, missing []int) error {
	var err error
	var reason string
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = &ckpterrors.BarrierTimeoutError{Key: key, Timeout: timeout, Missing: missing}
		reason = fmt.Sprintf("process %d timed out after %s", f.process, timeout)
	} else {
		err = ctx.Err()
		reason = fmt.Sprintf("process %d cancelled", f.process)
	}

	abortPath := storage.Join(keyDir, abortedMarker)
	if werr := f.st.WriteText(context.WithoutCancel(ctx), abortPath, f.session+" "+reason); werr != nil && f.logger != nil {
		f.logger.Warn("failed to write barrier abort marker",
			slog.String("path", abortPath),
			slog.String("error", werr.Error()),
		)
	}
	if f.logger != nil {
		f.logger.Warn("barrier failed",
			slog.String("key", key),
			slog.Int("process", f.process),
			slog.Any("missing", missing),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// Reset removes every marker under the barrier directory.
func (f *File) Reset(ctx context.Context) error {
	return ckpterrors.Storage("remove", f.dir, f.st.RemoveAll(ctx, f.dir))
}

// sanitizeKey maps a barrier key onto a single path element.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}
