package ckptdir

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/randalmurphal/ckptdir/pkg/ckptdir/storage"
)

// Strategy decides where a save writes and how it signals completion.
type Strategy int

const (
	// Rename writes into a sibling named <final><TmpDirSuffix><counter> and
	// renames it onto the final path at commit.
	Rename Strategy = iota

	// Sentinel writes directly into the final path and writes
	// CommitSuccessFile into it at commit.
	Sentinel
)

// String returns the configuration name of the strategy.
func (s Strategy) String() string {
	switch s {
	case Rename:
		return "rename"
	case Sentinel:
		return "sentinel"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses a configuration value. "auto" selects from caps.
func ParseStrategy(name string, caps storage.Capabilities) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return SelectStrategy(caps), nil
	case "rename":
		return Rename, nil
	case "sentinel", "commit_file":
		return Sentinel, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// SelectStrategy returns Rename for storage with atomic rename and Sentinel
// otherwise.
func SelectStrategy(caps storage.Capabilities) Strategy {
	if caps.AtomicRename {
		return Rename
	}
	return Sentinel
}

// TmpDirPattern returns the pattern matched by the base names of rename
// temporaries of finalName.
func TmpDirPattern(finalName string) *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(finalName) + regexp.QuoteMeta(TmpDirSuffix) + `\d+$`)
}

// Matches reports whether candidate could be a working location of final
// under this strategy. Sentinel matches the final path itself; whether it
// is complete is a separate question answered by IsIncomplete.
func (s Strategy) Matches(candidate, final string) bool {
	candidate, final = storage.Clean(candidate), storage.Clean(final)
	if storage.Dir(candidate) != storage.Dir(final) {
		return false
	}
	switch s {
	case Rename:
		return TmpDirPattern(storage.Base(final)).MatchString(storage.Base(candidate))
	case Sentinel:
		return storage.Base(candidate) == storage.Base(final)
	default:
		return false
	}
}

// IsIncomplete reports whether path is a directory carrying this strategy's
// marker of an unfinished save: a temporary name for Rename, a missing
// CommitSuccessFile for Sentinel.
func (s Strategy) IsIncomplete(ctx context.Context, st storage.Storage, path string) (bool, error) {
	isDir, err := st.IsDir(ctx, path)
	if err != nil || !isDir {
		return false, err
	}
	switch s {
	case Rename:
		return strings.Contains(storage.Base(path), TmpDirSuffix), nil
	case Sentinel:
		committed, err := st.Exists(ctx, storage.Join(path, CommitSuccessFile))
		return !committed, err
	default:
		return false, nil
	}
}

// location derives the working location of final.
func (s Strategy) location(final string, counter int64) string {
	if s == Sentinel {
		return final
	}
	return storage.Join(storage.Dir(final), storage.Base(final)+TmpDirSuffix+strconv.FormatInt(counter, 10))
}

// FromFinal derives the TemporaryPath of final. It performs no I/O.
// counter disambiguates repeated saves to the same final path and is
// ignored by Sentinel.
func (s Strategy) FromFinal(st storage.Storage, final string, counter int64, role Role, opts ...Option) *TemporaryPath {
	final = storage.Clean(final)
	cfg := applyOptions(opts)
	return &TemporaryPath{
		strategy: s,
		st:       st,
		location: s.location(final, counter),
		final:    final,
		counter:  counter,
		role:     role,
		store:    cfg.store,
		fileOpts: cfg.fileOpts,
		mp:       cfg.mp,
		logger:   cfg.logger,
		metrics:  cfg.metrics,
		spans:    cfg.spans,
	}
}
