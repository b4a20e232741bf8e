package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local stores checkpoints on a POSIX-like local or network filesystem.
//
// Paths may be plain paths or "file://" URIs. Directory rename is atomic on
// the same filesystem, so Local reports AtomicRename.
type Local struct{}

// Compile-time interface check.
var _ Storage = (*Local)(nil)

// NewLocal creates a Local backend.
func NewLocal() *Local {
	return &Local{}
}

// abs converts a logical path to an OS path.
func (l *Local) abs(p string) string {
	p = strings.TrimPrefix(p, "file://")
	return filepath.Clean(filepath.FromSlash(p))
}

// Capabilities implements Storage.
func (l *Local) Capabilities() Capabilities {
	return Capabilities{AtomicRename: true}
}

// Exists implements Storage.
func (l *Local) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(l.abs(p))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// IsDir implements Storage.
func (l *Local) IsDir(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(l.abs(p))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// MakeDirs implements Storage.
func (l *Local) MakeDirs(ctx context.Context, p string, opts MkdirOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := l.abs(p)
	mode := opts.Mode
	if mode == 0 {
		mode = 0o777
	}
	if opts.Parents {
		if err := os.MkdirAll(filepath.Dir(dir), mode); err != nil {
			return fmt.Errorf("mkdir parents of %q: %w", dir, err)
		}
	}
	err := os.Mkdir(dir, mode)
	if err != nil && errors.Is(err, os.ErrExist) && !opts.FailIfExists {
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			return nil
		}
	}
	return err
}

// RemoveAll implements Storage.
func (l *Local) RemoveAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(l.abs(p)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Rename implements Storage. dst must not exist; os.Rename would otherwise
// silently replace an empty directory.
func (l *Local) Rename(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	absDst := l.abs(dst)
	if _, err := os.Lstat(absDst); err == nil {
		return &os.LinkError{Op: "rename", Old: l.abs(src), New: absDst, Err: os.ErrExist}
	}
	return os.Rename(l.abs(src), absDst)
}

// WriteText implements Storage. The file is written to a temporary sibling
// and renamed into place so readers never observe a partial file.
func (l *Local) WriteText(ctx context.Context, p, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest := l.abs(p)
	tmp := dest + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open tmp %q: %w", tmp, err)
	}

	_, werr := f.WriteString(content)
	serr := f.Sync()
	cerr := f.Close()

	if werr != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("write %q: %w", tmp, werr)
	}
	if serr != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("sync %q: %w", tmp, serr)
	}
	if cerr != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("close %q: %w", tmp, cerr)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("rename to %q: %w", dest, err)
	}
	return nil
}

// ReadText implements Storage.
func (l *Local) ReadText(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(l.abs(p))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// List implements Storage.
func (l *Local) List(ctx context.Context, p string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(l.abs(p))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
